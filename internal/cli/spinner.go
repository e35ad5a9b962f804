package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/matzehuels/rendermill/pkg/observability"
)

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Spinner is a one-line progress indicator. Its message can change while it
// runs, which the render command uses to show pipeline states.
type Spinner struct {
	w       io.Writer
	ctx     context.Context
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu      sync.Mutex
	message string
	width   int
}

// startSpinner draws on w until Stop is called or ctx ends.
func startSpinner(ctx context.Context, w io.Writer, message string) *Spinner {
	s := &Spinner{
		w:       w,
		ctx:     ctx,
		message: message,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Spinner) loop() {
	defer close(s.stopped)
	defer s.clear()

	tick := time.NewTicker(80 * time.Millisecond)
	defer tick.Stop()
	for frame := 0; ; frame++ {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stop:
			return
		case <-tick.C:
			s.draw(spinnerFrames[frame%len(spinnerFrames)])
		}
	}
}

func (s *Spinner) draw(frame rune) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.message) + 2
	fmt.Fprintf(s.w, "\r%s %s%s", styleIconSpinner.Render(string(frame)), StyleDim.Render(s.message), strings.Repeat(" ", max(s.width-n, 0)))
	s.width = max(s.width, n)
}

func (s *Spinner) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.width > 0 {
		fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.width))
	}
}

// SetMessage replaces the text shown next to the spinner.
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Stop ends the animation and clears the line. Later calls are no-ops.
func (s *Spinner) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.stopped
}

// Cancelled reports whether the parent context ended before Stop.
func (s *Spinner) Cancelled() bool {
	select {
	case <-s.stop:
		return false
	default:
		return s.ctx.Err() != nil
	}
}

// =============================================================================
// Pipeline Progress
// =============================================================================

// stateLabels are the spinner texts for pipeline states.
var stateLabels = map[string]string{
	"sanitized":        "Sanitizing source",
	"backend_selected": "Selecting backend",
	"rendering":        "Rendering",
	"rasterizing":      "Rasterizing",
	"uploading":        "Uploading",
}

// spinnerHooks mirrors pipeline progress on a spinner.
type spinnerHooks struct {
	observability.NoopPipelineHooks
	s *Spinner
}

func (h spinnerHooks) OnTransition(_ context.Context, _, to string) {
	if label, ok := stateLabels[to]; ok {
		h.s.SetMessage(label + "...")
	}
}

func (h spinnerHooks) OnRenderStart(_ context.Context, backend string) {
	h.s.SetMessage("Rendering with " + backend + "...")
}

func (h spinnerHooks) OnFallback(_ context.Context, _, to string, _ error) {
	h.s.SetMessage("Retrying with " + to + "...")
}
