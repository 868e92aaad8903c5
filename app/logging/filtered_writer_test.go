// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudzero/preupgrade-validator/app/logging"
)

func TestUnit_Logging_FilteredWriter(t *testing.T) {
	tcases := []struct {
		name   string
		fields []string
		input  string
		want   string
	}{
		{name: "empty write", fields: []string{"run_id"}, input: "", want: ""},
		{name: "drops field", fields: []string{"run_id"}, input: `{"check":"disk_space","run_id":"abc"}`, want: `{"check":"disk_space"}`},
		{name: "keeps newline", fields: []string{"run_id"}, input: `{"a":1,"run_id":"x"}` + "\n", want: `{"a":1}` + "\n"},
		{name: "no fields passes through", fields: nil, input: `{"b":2,"a":1}`, want: `{"b":2,"a":1}`},
		{name: "not json", fields: []string{"x"}, input: "not a json", want: "not a json"},
		{name: "console text", fields: []string{"x"}, input: "12:00 INF starting\n", want: "12:00 INF starting\n"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := logging.NewFieldFilterWriter(&buf, tc.fields)
			n, err := w.Write([]byte(tc.input))
			assert.NoError(t, err)
			assert.Equal(t, len(tc.input), n)
			assert.Equal(t, tc.want, buf.String())
		})
	}
}

func TestUnit_Logging_FilteredWriter_UnderlyingError(t *testing.T) {
	boom := errors.New("boom")
	w := logging.NewFieldFilterWriter(failingWriter{err: boom}, []string{"foo"})
	n, err := w.Write([]byte(`{"foo":"x"}`))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, n)
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }
