package main

import (
	"github.com/charmbracelet/lipgloss"

	"tswatch/internal/tswatch"
)

var (
	primary = lipgloss.Color("#7C3AED")
	green   = lipgloss.Color("#10B981")
	red     = lipgloss.Color("#EF4444")
	yellow  = lipgloss.Color("#F59E0B")
	cyan    = lipgloss.Color("#06B6D4")
	dim     = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primary)
	boldStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(dim)
	errStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)

	stateQueued   = lipgloss.NewStyle().Foreground(cyan)
	stateRunning  = lipgloss.NewStyle().Foreground(yellow).Bold(true)
	stateComplete = lipgloss.NewStyle().Foreground(green).Bold(true)
)

func stateStyle(s tswatch.ExecutionState) (string, lipgloss.Style) {
	switch s {
	case tswatch.StateQueued:
		return "○", stateQueued
	case tswatch.StateInProgress:
		return "▶", stateRunning
	case tswatch.StateComplete:
		return "✓", stateComplete
	}
	return "·", dimStyle
}
