package main

import (
	"os"

	glamour "charm.land/glamour/v2"
	"charm.land/glamour/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Ayu palette, adaptive light/dark.
var (
	colorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMute = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorLink = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMute)
	idStyle     = lipgloss.NewStyle().Foreground(colorLink)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorLink)
)

// shouldUseColor honors NO_COLOR and non-TTY output
func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return termenv.DefaultOutput().ColorProfile() != termenv.Ascii
}

func renderError(msg string) string {
	if !shouldUseColor() {
		return "error: " + msg
	}
	return failStyle.Render("error: ") + msg
}

func renderWarnings(warnings []string) string {
	out := ""
	for _, w := range warnings {
		line := "warning: " + w
		if shouldUseColor() {
			line = warnStyle.Render("warning: ") + w
		}
		out += line + "\n"
	}
	return out
}

// terminalWidth caps line wrap at a readable width
func terminalWidth() int {
	const maxReadable = 100
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	if width > maxReadable {
		width = maxReadable
	}
	return width
}

// renderMarkdown renders markdown for human eyes, falling back to the raw
// text when the terminal can't take styling.
func renderMarkdown(markdown string) string {
	if !shouldUseColor() {
		return markdown
	}
	// glamour v2 removed WithAutoStyle; pick dark/light from the terminal
	// background as v1's auto style did.
	style := styles.LightStyle
	if termenv.HasDarkBackground() {
		style = styles.DarkStyle
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
