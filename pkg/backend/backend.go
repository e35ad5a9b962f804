// Package backend turns sanitized diagram source into SVG.
//
// # Backends
//
// Three kinds of rendering backend are supported, in order of preference:
//
//   - [KindInProcess]: Graphviz compiled to WebAssembly, running inside the
//     host process. Fastest and has no external requirements, but only
//     understands the flowchart subset translated by [ToDOT].
//   - [KindBrowser]: a headless Chromium driven by go-rod, loading the
//     Mermaid library. Renders every diagram type.
//   - [KindExternal]: the Mermaid command line tool (mmdc) run as a child
//     process.
//
// Each kind is an [Adapter]. An adapter opens expensive rendering contexts
// (session handles) that the pool reuses across requests, and renders one
// diagram per call on a handle it opened.
//
// # Selection
//
// [Selector] probes the adapters in preference order and returns the first
// available one, or the ordered chain of available adapters so the
// orchestrator can fall back after a render failure.
package backend

import (
	"context"
	"strings"

	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/sanitize"
	"github.com/matzehuels/rendermill/pkg/session"
)

// Kind identifies a rendering backend.
type Kind string

const (
	KindInProcess Kind = "inprocess"
	KindBrowser   Kind = "browser"
	KindExternal  Kind = "external"
)

// Kinds lists every backend kind in preference order.
var Kinds = []Kind{KindInProcess, KindBrowser, KindExternal}

// ParseKind parses a backend name. "headless" and "cli" are accepted as
// aliases for browser and external.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inprocess", "in-process", "wasm":
		return KindInProcess, nil
	case "browser", "headless", "chromium":
		return KindBrowser, nil
	case "external", "cli", "mmdc":
		return KindExternal, nil
	}
	return "", errs.New(errs.ErrCodeInvalidInput, "unknown backend %q (want inprocess, browser or external)", s)
}

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// rank returns the preference position of k; unknown kinds sort last.
func (k Kind) rank() int {
	for i, kk := range Kinds {
		if kk == k {
			return i
		}
	}
	return len(Kinds)
}

// Adapter is the contract every backend implements.
type Adapter interface {
	// Kind identifies the backend.
	Kind() Kind

	// Available reports whether the backend can run in this environment.
	// It is cheap and free of side effects; expensive probes are memoized.
	Available() bool

	// Open creates one rendering context. The caller owns the handle and
	// must Close it.
	Open(ctx context.Context) (session.Handle, error)

	// Render draws src using a handle previously returned by Open.
	// Failures carry RENDER_FAILURE.
	Render(ctx context.Context, h session.Handle, src sanitize.Source) (render.Vector, error)
}

// renderFailure wraps err as a RENDER_FAILURE unless it already carries a code.
func renderFailure(kind Kind, err error, format string, args ...any) error {
	if errs.GetCode(err) != "" {
		return err
	}
	return errs.Wrap(errs.ErrCodeRenderFailure, err, string(kind)+": "+format, args...)
}
