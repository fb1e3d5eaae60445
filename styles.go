package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	subtle       = theme.TextMuted
	highlight    = theme.Accent
	panelBorder  = theme.Border
	panelBg      = theme.Surface
	accentPink   = theme.AccentPink
	accentOrange = theme.AccentOrange
	accentGreen  = theme.AccentGreen
	accentBlue   = theme.AccentBlue
	danger       = theme.Danger
	textStrong   = theme.TextStrong
	textOnAccent = theme.TextOnAccent
	selectionBg  = theme.SelectionBg
	selectionFg  = theme.SelectionFg

	// Top section styles
	metaPillStyle = lipgloss.NewStyle().
			Foreground(highlight).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1).
			Bold(true).
			Align(lipgloss.Center)

	metaMutedPillStyle = metaPillStyle.Copy().
				Foreground(subtle).
				BorderForeground(panelBorder)

	metaAlertPillStyle = metaPillStyle.Copy().
				Background(accentPink).
				Foreground(textOnAccent).
				BorderForeground(accentPink)

	filterBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Background(panelBg).
			Padding(0, 1)

	filterHintStyle = lipgloss.NewStyle().
			Foreground(subtle)

	focusTagStyle = lipgloss.NewStyle().
			Foreground(textOnAccent).
			Background(highlight).
			Padding(0, 1).
			Bold(true).
			MarginLeft(1)

	// Main panels
	listStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Background(theme.SurfaceAlt)

	detailsStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Background(theme.SurfaceAlt)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(subtle).
			Bold(true)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(subtle).
				Italic(true)

	copyStatusStyle = lipgloss.NewStyle().
			Foreground(accentGreen).
			Bold(true)

	detailKeyStyle = lipgloss.NewStyle().
			Foreground(subtle).
			Bold(true)

	cancelWarnStyle = lipgloss.NewStyle().
			Foreground(textOnAccent).
			Background(danger).
			Padding(0, 1).
			Bold(true)

	// Jobs approaching their time limit.
	timeRatioWarningStyle = lipgloss.NewStyle().
				Foreground(textOnAccent).
				Background(accentOrange).
				Padding(0, 1).
				Bold(true)

	timeRatioCriticalStyle = lipgloss.NewStyle().
				Foreground(textOnAccent).
				Background(danger).
				Padding(0, 1).
				Bold(true)

	// Table Styles
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(subtle).
				Bold(true).
				Align(lipgloss.Left).
				Padding(0, 1)

	tableSelectedStyle = lipgloss.NewStyle().
				Foreground(selectionFg).
				Background(selectionBg).
				Padding(0, 1)
)

var nodeStateColorMap = map[string]lipgloss.TerminalColor{
	"idle":      accentGreen,
	"mixed":     accentBlue,
	"allocated": accentOrange,
	"alloc":     accentOrange,
	"draining":  accentPink,
	"drained":   danger,
	"down":      danger,
	"fail":      danger,
	"failing":   danger,
}

// nodeStateStyle colors a node state, ignoring the */+/~/# qualifier suffix
// sinfo appends.
func nodeStateStyle(state string) lipgloss.Style {
	base := strings.ToLower(strings.TrimRight(strings.TrimSpace(state), "*+~#"))
	if c, ok := nodeStateColorMap[base]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return lipgloss.NewStyle().Foreground(theme.TextDim)
}

var jobStateColorMap = map[string]lipgloss.TerminalColor{
	"RUNNING":    accentGreen,
	"COMPLETING": accentGreen,
	"PENDING":    accentOrange,
	"SUSPENDED":  accentOrange,
	"COMPLETED":  accentBlue,
	"FAILED":     danger,
	"CANCELLED":  danger,
	"TIMEOUT":    danger,
	"NODE_FAIL":  danger,
	"PREEMPTED":  accentPink,
}

func jobStateStyle(state string) lipgloss.Style {
	base := strings.ToUpper(strings.TrimRight(strings.TrimSpace(state), "*+~#"))
	if c, ok := jobStateColorMap[base]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return lipgloss.NewStyle().Foreground(theme.TextDim)
}
