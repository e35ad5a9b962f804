// Package cli implements the rendermill command-line interface.
//
// The CLI is built with cobra and shares one charmbracelet/log logger across
// commands. Every command loads its settings through pkg/config, so a TOML
// file passed with --config, a .env file and the process environment all
// apply in the same way they do for the HTTP service.
//
// # Commands
//
//   - serve: Run the HTTP rendering service
//   - render: Render a Mermaid file locally or publish it to the store
//   - backends: Report which rendering backends are usable on this host
//   - cache: Inspect and clear the artifact cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging, which also
// installs log hooks for pipeline, pool, cache and store events.
package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a new logger with timestamp formatting.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress tracks the start time of an operation and logs completion with elapsed duration.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg along with the elapsed time, e.g. "Probed backends (12ms)".
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}
