// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudzero/preupgrade-validator/app/logging"
)

func TestUnit_Logging_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(
		logging.WithSink(&buf),
		logging.WithLevel("warn"),
		logging.WithAttrs(func(c zerolog.Context) zerolog.Context {
			return c.Str("node", "nd1")
		}),
	)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("check", "iso_check").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "nd1", entry["node"])
	assert.Equal(t, "iso_check", entry["check"])
	assert.NotEmpty(t, entry["version"])
}

func TestUnit_Logging_NewLogger_BadLevel(t *testing.T) {
	_, err := logging.NewLogger(logging.WithLevel("loud"))
	assert.Error(t, err)
}

func TestUnit_Logging_NewLogger_MultipleSinks(t *testing.T) {
	var a, b bytes.Buffer
	logger, err := logging.NewLogger(logging.WithSink(&a), logging.WithSink(&b))
	require.NoError(t, err)
	logger.Info().Msg("twice")
	assert.Contains(t, a.String(), "twice")
	assert.Contains(t, b.String(), "twice")
}
