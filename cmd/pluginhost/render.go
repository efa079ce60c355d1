// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/holomush/pluginhost/internal/plugin"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// stateStyle colours a lifecycle state for terminal output.
func stateStyle(s plugin.State) lipgloss.Style {
	switch s {
	case plugin.StateLoaded:
		return okStyle
	case plugin.StateError:
		return failStyle
	case plugin.StateLoading, plugin.StateUnloading:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	default:
		return mutedStyle
	}
}

// renderTable lays rows out in padded columns under a bold header.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			col := lipgloss.NewStyle().Width(widths[i])
			if style != nil {
				col = col.Inherit(*style)
			}
			parts[i] = col.Render(cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	lines := []string{line(header, &headerStyle)}
	for _, row := range rows {
		lines = append(lines, line(row, nil))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
