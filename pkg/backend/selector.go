package backend

import (
	"iter"
	"slices"

	"github.com/charmbracelet/log"

	errs "github.com/matzehuels/rendermill/pkg/errors"
)

// ProbeResult is one line of an availability report.
type ProbeResult struct {
	Kind      Kind `json:"kind"`
	Available bool `json:"available"`
}

// Selector picks backends in fixed preference order: in-process, then
// browser, then external. The order does not depend on how the adapters
// were passed in.
type Selector struct {
	adapters []Adapter
}

// NewSelector creates a selector over the given adapters.
func NewSelector(adapters ...Adapter) *Selector {
	sorted := slices.Clone(adapters)
	slices.SortStableFunc(sorted, func(a, b Adapter) int {
		return a.Kind().rank() - b.Kind().rank()
	})
	return &Selector{adapters: sorted}
}

// Options configures the default adapter set.
type Options struct {
	Disabled []Kind
	Browser  BrowserOptions
	External ExternalOptions
}

// NewDefaultSelector builds a selector over all three backends minus the
// disabled ones.
func NewDefaultSelector(opts Options, logger *log.Logger) *Selector {
	var adapters []Adapter
	add := func(a Adapter) {
		if !slices.Contains(opts.Disabled, a.Kind()) {
			adapters = append(adapters, a)
		}
	}
	add(NewInProcess(logger))
	add(NewBrowser(opts.Browser, logger))
	add(NewExternal(opts.External, logger))
	return NewSelector(adapters...)
}

// Adapters returns every configured adapter in preference order,
// available or not.
func (s *Selector) Adapters() []Adapter {
	return slices.Clone(s.adapters)
}

// Chain yields the available adapters in preference order. Availability is
// probed lazily, so stopping after the first adapter probes only as far as
// needed.
func (s *Selector) Chain() iter.Seq[Adapter] {
	return func(yield func(Adapter) bool) {
		for _, a := range s.adapters {
			if !a.Available() {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

// Select returns the most preferred available adapter. It fails with
// NO_BACKEND_AVAILABLE when every probe fails.
func (s *Selector) Select() (Adapter, error) {
	for a := range s.Chain() {
		return a, nil
	}
	return nil, errs.New(errs.ErrCodeNoBackend, "no rendering backend available")
}

// Probe reports the availability of every configured adapter.
func (s *Selector) Probe() []ProbeResult {
	out := make([]ProbeResult, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, ProbeResult{Kind: a.Kind(), Available: a.Available()})
	}
	return out
}

// Only returns a selector restricted to one kind.
func (s *Selector) Only(kind Kind) (*Selector, error) {
	for _, a := range s.adapters {
		if a.Kind() == kind {
			return &Selector{adapters: []Adapter{a}}, nil
		}
	}
	return nil, errs.New(errs.ErrCodeNoBackend, "backend %q is not configured", kind)
}
