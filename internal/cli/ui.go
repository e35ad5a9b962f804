package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/rendermill/pkg/pipeline"
)

// stdout receives all status output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// =============================================================================
// Styles
// =============================================================================

var (
	colorAccent = lipgloss.Color("36")
	colorOK     = lipgloss.Color("35")
	colorWarn   = lipgloss.Color("220")
	colorFail   = lipgloss.Color("167")
	colorLink   = lipgloss.Color("75")
	colorMuted  = lipgloss.Color("240")
	colorLabel  = lipgloss.Color("245")
)

var (
	// StyleTitle is used for dialog headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	// StyleLink renders URLs.
	StyleLink = lipgloss.NewStyle().Foreground(colorLink).Underline(true)

	StyleDim    = lipgloss.NewStyle().Foreground(colorMuted)
	StyleNumber = lipgloss.NewStyle().Foreground(colorAccent)

	styleIconSpinner = lipgloss.NewStyle().Foreground(colorAccent)
	styleLabel       = lipgloss.NewStyle().Foreground(colorLabel).Width(12)
	styleCommand     = lipgloss.NewStyle().Foreground(colorLink)
)

// status line prefixes
var (
	markOK   = lipgloss.NewStyle().Foreground(colorOK).Render("✓")
	markFail = lipgloss.NewStyle().Foreground(colorFail).Render("✗")
	markWarn = lipgloss.NewStyle().Foreground(colorWarn).Render("!")
	markInfo = lipgloss.NewStyle().Foreground(colorLabel).Render("›")
)

// =============================================================================
// Status Output
// =============================================================================

func printLine(mark, format string, args ...any) {
	fmt.Fprintln(stdout, mark+" "+fmt.Sprintf(format, args...))
}

func printSuccess(format string, args ...any) { printLine(markOK, format, args...) }
func printError(format string, args ...any)   { printLine(markFail, format, args...) }
func printInfo(format string, args ...any)    { printLine(markInfo, format, args...) }

func printWarning(format string, args ...any) {
	printLine(markWarn, "%s", lipgloss.NewStyle().Foreground(colorWarn).Render(fmt.Sprintf(format, args...)))
}

// printDetail prints an indented, muted line below a status line.
func printDetail(format string, args ...any) {
	fmt.Fprintln(stdout, "  "+StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printFile reports a written output file.
func printFile(path string) {
	fmt.Fprintln(stdout, "  "+StyleDim.Render("→")+" "+path)
}

func printKeyValue(key, value string) {
	fmt.Fprintln(stdout, styleLabel.Render(key)+" "+value)
}

// printNextStep suggests a command that fixes the situation just reported.
func printNextStep(description, cmd string) {
	fmt.Fprintln(stdout, StyleDim.Render(description+":")+" "+styleCommand.Render(cmd))
}

func printNewline() {
	fmt.Fprintln(stdout)
}

// =============================================================================
// Render Summary
// =============================================================================

// statsLine summarizes how a render was produced: backend, number of
// attempts when a fallback happened, cache status and total time.
func statsLine(res *pipeline.Result) string {
	var parts []string
	if res.Backend != "" {
		parts = append(parts, string(res.Backend))
	}
	if n := len(res.Attempts); n > 1 {
		parts = append(parts, fmt.Sprintf("%d attempts", n))
	}
	if res.CacheHit {
		parts = append(parts, "cached")
	} else {
		parts = append(parts, "fresh")
	}
	parts = append(parts, res.Stats.Total.Round(time.Millisecond).String())
	return strings.Join(parts, " · ")
}

func printStats(res *pipeline.Result) {
	fmt.Fprintln(stdout, "  "+StyleDim.Render(statsLine(res)))
}
