package backend

import (
	"context"
	"testing"

	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/sanitize"
	"github.com/matzehuels/rendermill/pkg/session"
)

// stubAdapter records how often it was probed.
type stubAdapter struct {
	kind      Kind
	available bool
	probes    int
}

func (a *stubAdapter) Kind() Kind { return a.kind }

func (a *stubAdapter) Available() bool {
	a.probes++
	return a.available
}

func (a *stubAdapter) Open(context.Context) (session.Handle, error) { return nil, nil }

func (a *stubAdapter) Render(context.Context, session.Handle, sanitize.Source) (render.Vector, error) {
	return render.Vector{}, nil
}

func TestSelectorPreferenceOrder(t *testing.T) {
	ext := &stubAdapter{kind: KindExternal, available: true}
	br := &stubAdapter{kind: KindBrowser, available: true}
	inp := &stubAdapter{kind: KindInProcess, available: true}

	s := NewSelector(ext, br, inp)
	got, err := s.Select()
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got.Kind() != KindInProcess {
		t.Errorf("Select() = %s, want inprocess", got.Kind())
	}

	var order []Kind
	for _, a := range s.Adapters() {
		order = append(order, a.Kind())
	}
	if len(order) != 3 || order[0] != KindInProcess || order[1] != KindBrowser || order[2] != KindExternal {
		t.Errorf("Adapters() order = %v", order)
	}
}

func TestSelectorFallsBackWhenPreferredUnavailable(t *testing.T) {
	inp := &stubAdapter{kind: KindInProcess, available: false}
	br := &stubAdapter{kind: KindBrowser, available: true}
	ext := &stubAdapter{kind: KindExternal, available: true}

	got, err := NewSelector(inp, br, ext).Select()
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got.Kind() != KindBrowser {
		t.Errorf("Select() = %s, want browser", got.Kind())
	}
}

func TestSelectorChainIsLazy(t *testing.T) {
	inp := &stubAdapter{kind: KindInProcess, available: true}
	ext := &stubAdapter{kind: KindExternal, available: true}

	if _, err := NewSelector(inp, ext).Select(); err != nil {
		t.Fatal(err)
	}
	if ext.probes != 0 {
		t.Errorf("external probed %d times, want 0", ext.probes)
	}
}

func TestSelectorChainSkipsUnavailable(t *testing.T) {
	s := NewSelector(
		&stubAdapter{kind: KindInProcess, available: true},
		&stubAdapter{kind: KindBrowser, available: false},
		&stubAdapter{kind: KindExternal, available: true},
	)
	var kinds []Kind
	for a := range s.Chain() {
		kinds = append(kinds, a.Kind())
	}
	if len(kinds) != 2 || kinds[0] != KindInProcess || kinds[1] != KindExternal {
		t.Errorf("Chain() = %v, want [inprocess external]", kinds)
	}
}

func TestSelectorNoBackend(t *testing.T) {
	s := NewSelector(
		&stubAdapter{kind: KindInProcess},
		&stubAdapter{kind: KindBrowser},
		&stubAdapter{kind: KindExternal},
	)
	_, err := s.Select()
	if !errs.Is(err, errs.ErrCodeNoBackend) {
		t.Errorf("Select() error = %v, want NO_BACKEND_AVAILABLE", err)
	}

	_, err = NewSelector().Select()
	if !errs.Is(err, errs.ErrCodeNoBackend) {
		t.Errorf("empty Select() error = %v, want NO_BACKEND_AVAILABLE", err)
	}
}

func TestSelectorProbe(t *testing.T) {
	s := NewSelector(
		&stubAdapter{kind: KindBrowser, available: true},
		&stubAdapter{kind: KindInProcess, available: false},
	)
	got := s.Probe()
	want := []ProbeResult{{KindInProcess, false}, {KindBrowser, true}}
	if len(got) != len(want) {
		t.Fatalf("Probe() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Probe()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSelectorOnly(t *testing.T) {
	s := NewSelector(
		&stubAdapter{kind: KindInProcess, available: true},
		&stubAdapter{kind: KindExternal, available: true},
	)
	only, err := s.Only(KindExternal)
	if err != nil {
		t.Fatalf("Only() error: %v", err)
	}
	got, err := only.Select()
	if err != nil || got.Kind() != KindExternal {
		t.Errorf("Only(external).Select() = %v, %v", got, err)
	}

	if _, err := s.Only(KindBrowser); !errs.Is(err, errs.ErrCodeNoBackend) {
		t.Errorf("Only(browser) error = %v, want NO_BACKEND_AVAILABLE", err)
	}
}

func TestNewDefaultSelectorDisabled(t *testing.T) {
	s := NewDefaultSelector(Options{Disabled: []Kind{KindBrowser}}, nil)
	for _, a := range s.Adapters() {
		if a.Kind() == KindBrowser {
			t.Error("browser backend should be disabled")
		}
	}
	if len(s.Adapters()) != 2 {
		t.Errorf("got %d adapters, want 2", len(s.Adapters()))
	}
}
