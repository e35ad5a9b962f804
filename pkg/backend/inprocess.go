package backend

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/sanitize"
	"github.com/matzehuels/rendermill/pkg/session"
)

// InProcess renders flowcharts with Graphviz compiled to WebAssembly. Each
// session owns its own Graphviz runtime, so concurrent sessions share no
// state.
type InProcess struct {
	logger *log.Logger

	probeOnce sync.Once
	available bool
	probe     func(ctx context.Context) error
}

// NewInProcess creates the in-process adapter.
func NewInProcess(logger *log.Logger) *InProcess {
	if logger == nil {
		logger = discardLogger()
	}
	return &InProcess{logger: logger, probe: probeGraphviz}
}

func (a *InProcess) Kind() Kind { return KindInProcess }

// Available instantiates a Graphviz runtime once and remembers the outcome.
func (a *InProcess) Available() bool {
	a.probeOnce.Do(func() {
		if err := a.probe(context.Background()); err != nil {
			a.logger.Debug("in-process backend unavailable", "error", err)
			return
		}
		a.available = true
	})
	return a.available
}

func probeGraphviz(ctx context.Context) error {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return err
	}
	return gv.Close()
}

// graphvizHandle is one Graphviz runtime. The WASM instance is not safe for
// concurrent use; the pool lends a session to one request at a time and the
// mutex keeps direct callers honest.
type graphvizHandle struct {
	mu sync.Mutex
	gv *graphviz.Graphviz
}

func (h *graphvizHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gv.Close()
}

// Open instantiates a fresh Graphviz runtime.
func (a *InProcess) Open(ctx context.Context) (session.Handle, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	return &graphvizHandle{gv: gv}, nil
}

// Render translates the flowchart to DOT and lays it out with Graphviz.
func (a *InProcess) Render(ctx context.Context, h session.Handle, src sanitize.Source) (render.Vector, error) {
	gh, ok := h.(*graphvizHandle)
	if !ok {
		return render.Vector{}, renderFailure(KindInProcess, nil, "foreign session handle %T", h)
	}

	dot, err := ToDOT(src.String())
	if err != nil {
		return render.Vector{}, renderFailure(KindInProcess, err, "translate diagram")
	}
	if err := ctx.Err(); err != nil {
		return render.Vector{}, renderFailure(KindInProcess, err, "before layout")
	}

	svg, err := gh.renderSVG(ctx, dot)
	if err != nil {
		return render.Vector{}, renderFailure(KindInProcess, err, "graphviz")
	}
	return render.NewVector(svg), nil
}

func (h *graphvizHandle) renderSVG(ctx context.Context, dot string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := h.gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	gvSvgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	gvViewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox replaces Graphviz's root element (pt units, transformed
// origin) with a plain pixel-sized one so browsers and rasterizers agree on
// the size.
func normalizeViewBox(svg []byte) []byte {
	match := gvViewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	root := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return gvSvgTagRe.ReplaceAll(svg, []byte(root))
}
