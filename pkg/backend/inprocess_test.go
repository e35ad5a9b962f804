package backend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/sanitize"
)

func TestInProcessUnavailableWhenRuntimeFails(t *testing.T) {
	a := NewInProcess(nil)
	calls := 0
	a.probe = func(context.Context) error {
		calls++
		return errors.New("wasm runtime missing")
	}
	if a.Available() {
		t.Error("Available() should be false when the runtime cannot start")
	}
	a.Available()
	if calls != 1 {
		t.Errorf("probe ran %d times, want 1", calls)
	}
}

func TestInProcessRejectsUnsupportedDiagram(t *testing.T) {
	a := NewInProcess(nil)
	_, err := a.Render(context.Background(), &graphvizHandle{}, sanitize.Sanitize("sequenceDiagram\nA->>B: hi"))
	if !errs.Is(err, errs.ErrCodeRenderFailure) {
		t.Errorf("Render() error = %v, want RENDER_FAILURE", err)
	}
	if !errors.Is(err, ErrUnsupportedDiagram) {
		t.Errorf("Render() error should wrap ErrUnsupportedDiagram: %v", err)
	}
}

func TestInProcessRejectsForeignHandle(t *testing.T) {
	a := NewInProcess(nil)
	_, err := a.Render(context.Background(), scratchDir("/tmp/x"), "graph TD; A-->B")
	if !errs.Is(err, errs.ErrCodeRenderFailure) {
		t.Errorf("Render() error = %v, want RENDER_FAILURE", err)
	}
}

func TestInProcessRenderGraphviz(t *testing.T) {
	if testing.Short() {
		t.Skip("instantiates the Graphviz WASM runtime")
	}
	a := NewInProcess(nil)
	if !a.Available() {
		t.Skip("graphviz runtime unavailable")
	}

	ctx := context.Background()
	h, err := a.Open(ctx)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer h.Close()

	src := sanitize.Sanitize("graph TD; A-->B")
	first, err := a.Render(ctx, h, src)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(string(first.Data), "<svg") {
		t.Fatal("output is not svg")
	}
	if first.Width <= 0 || first.Height <= 0 {
		t.Errorf("size = %vx%v, want positive", first.Width, first.Height)
	}

	second, err := a.Render(ctx, h, src)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("rendering the same source twice should be byte-identical")
	}
}

func TestNormalizeViewBox(t *testing.T) {
	in := []byte(`<svg width="62pt" height="116pt"
 viewBox="0.00 0.00 62.00 116.00" xmlns="http://www.w3.org/2000/svg"><g/></svg>`)
	out := string(normalizeViewBox(in))
	if !strings.Contains(out, `viewBox="0 0 62.00 116.00" width="62" height="116"`) {
		t.Errorf("normalizeViewBox() = %s", out)
	}
	if strings.Contains(out, "pt\"") {
		t.Error("pt units should be dropped")
	}

	noBox := []byte(`<svg width="10" height="10"></svg>`)
	if !bytes.Equal(normalizeViewBox(noBox), noBox) {
		t.Error("svg without viewBox should be unchanged")
	}
}
