// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"strings"
)

const (
	columnSep   = "│"
	tableHeader = "NAME (*=SELF)"
)

// NodeRow is one node of the `acs show nodes` table. The columns are
// NAME, SERIAL, VERSION, ROLE, DATA NETWORK, MGMT NETWORK, STATE.
type NodeRow struct {
	Name        string
	Self        bool
	Serial      string
	Version     string
	Role        string
	DataNetwork string
	MgmtNetwork string
	State       string
}

// ParseNodes reads the box drawn node table. Separator rows, the header and
// continuation rows (empty name cell) are skipped.
func ParseNodes(output string) []NodeRow {
	var rows []NodeRow
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "─") || strings.Contains(line, "═") ||
			strings.Contains(line, tableHeader) || strings.Contains(line, "-----") {
			continue
		}
		if !strings.Contains(line, columnSep) {
			continue
		}

		raw := strings.Split(line, columnSep)
		// drop the text outside the outer borders
		if strings.TrimSpace(raw[0]) == "" {
			raw = raw[1:]
		}
		if n := len(raw); n > 0 && strings.TrimSpace(raw[n-1]) == "" {
			raw = raw[:n-1]
		}
		if len(raw) < 4 {
			continue
		}

		cells := make([]string, len(raw))
		for i, c := range raw {
			cells[i] = strings.TrimSpace(c)
		}
		if cells[0] == "" {
			continue
		}

		row := NodeRow{
			Name:    strings.TrimSpace(strings.ReplaceAll(cells[0], "*", "")),
			Self:    strings.HasPrefix(cells[0], "*"),
			Serial:  cells[1],
			Version: cells[2],
			Role:    cells[3],
			State:   cells[len(cells)-1],
		}
		if len(cells) >= 6 {
			row.DataNetwork = cells[4]
			row.MgmtNetwork = cells[5]
		}
		rows = append(rows, row)
	}
	return rows
}

// UsableAddress reports whether a network cell carries a real address rather
// than the "::/0" placeholder or a dash.
func UsableAddress(cell string) bool {
	return cell != "" && cell != "::/0" && !strings.HasPrefix(cell, "-")
}

// HostAddress strips the prefix length from an address cell.
func HostAddress(cell string) string {
	host, _, _ := strings.Cut(cell, "/")
	return host
}
