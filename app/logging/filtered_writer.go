// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"io"
)

type fieldFilterWriter struct {
	out    io.Writer
	fields []string
}

// NewFieldFilterWriter drops the named top-level fields from each JSON log line
// before passing it on. Lines that are not JSON objects pass through unchanged.
func NewFieldFilterWriter(out io.Writer, fields []string) io.Writer {
	return &fieldFilterWriter{out: out, fields: fields}
}

func (w *fieldFilterWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	payload := p
	if len(w.fields) > 0 {
		body := bytes.TrimRight(p, "\n")
		suffix := p[len(body):]

		var entry map[string]json.RawMessage
		if err := json.Unmarshal(body, &entry); err == nil {
			for _, f := range w.fields {
				delete(entry, f)
			}
			if filtered, err := json.Marshal(entry); err == nil {
				payload = append(filtered, suffix...)
			}
		}
	}

	if _, err := w.out.Write(payload); err != nil {
		return 0, err
	}
	// report the caller's length; the filtered line is usually shorter
	return len(p), nil
}
