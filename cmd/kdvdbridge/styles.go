package main

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorGrayDim = "#55626D"
	colorRed     = "#F76C7C"
	colorYellow  = "#E3D367"
	colorGreen   = "#9CD57B"
	colorBlue    = "#78CEE9"
	colorFg      = "#E1E2E3"
	colorGray    = "#82878B"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorYellow))
	styleKey    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen))
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
)

// customHuhTheme returns a huh theme using our palette.
func customHuhTheme() *huh.Theme {
	t := huh.ThemeDracula()

	yellow := lipgloss.Color(colorYellow)
	gray := lipgloss.Color(colorGray)
	fg := lipgloss.Color(colorFg)

	t.Focused.Base = t.Focused.Base.BorderForeground(yellow).Foreground(fg)
	t.Blurred.Base = t.Blurred.Base.BorderForeground(gray).Foreground(fg)

	t.Focused.Title = t.Focused.Title.Foreground(yellow).Bold(true)
	t.Blurred.Title = t.Blurred.Title.Foreground(gray)

	t.Focused.Description = t.Focused.Description.Foreground(gray)
	t.Blurred.Description = t.Blurred.Description.Foreground(lipgloss.Color(colorGrayDim))

	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(yellow)
	t.Focused.TextInput.Placeholder = t.Focused.TextInput.Placeholder.Foreground(lipgloss.Color(colorGrayDim))

	return t
}

// yesNo renders a boolean as a colored yes/no.
func yesNo(v bool) string {
	if v {
		return styleOK.Render("yes")
	}
	return styleBad.Render("no")
}
