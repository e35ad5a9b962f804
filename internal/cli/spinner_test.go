package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietSpinner(ctx context.Context, msg string) (*Spinner, *syncBuffer) {
	var buf syncBuffer
	return startSpinner(ctx, &buf, msg), &buf
}

func TestSpinnerDrawsAndClears(t *testing.T) {
	s, buf := quietSpinner(context.Background(), "first")
	time.Sleep(120 * time.Millisecond)
	s.SetMessage("second")
	time.Sleep(120 * time.Millisecond)
	s.Stop()
	s.Stop()

	out := buf.String()
	if !strings.Contains(out, "first") || !strings.Contains(out, "second") {
		t.Errorf("output should show both messages: %q", out)
	}
	if !strings.HasSuffix(out, "\r") {
		t.Errorf("line should be cleared after Stop: %q", out)
	}
	if s.Cancelled() {
		t.Error("Stop should not count as cancellation")
	}
}

func TestSpinnerCancelled(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
	}{
		{"cancel", func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}},
		{"deadline", func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 20*time.Millisecond)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.ctx()
			defer cancel()

			s, _ := quietSpinner(ctx, "Rendering...")
			time.Sleep(60 * time.Millisecond)
			if !s.Cancelled() {
				t.Error("Cancelled() should report the ended context")
			}
			s.Stop()
		})
	}
}

func TestSpinnerHooksFollowPipeline(t *testing.T) {
	s, _ := quietSpinner(context.Background(), "Starting...")
	defer s.Stop()
	h := spinnerHooks{s: s}
	ctx := context.Background()

	tests := []struct {
		name string
		fire func()
		want string
	}{
		{"transition", func() { h.OnTransition(ctx, "received", "sanitized") }, "Sanitizing source..."},
		{"unknown state keeps message", func() { h.OnTransition(ctx, "uploading", "completed") }, "Sanitizing source..."},
		{"render start", func() { h.OnRenderStart(ctx, "inprocess") }, "Rendering with inprocess..."},
		{"fallback", func() { h.OnFallback(ctx, "inprocess", "browser", errors.New("boom")) }, "Retrying with browser..."},
		{"rasterizing", func() { h.OnTransition(ctx, "rendering", "rasterizing") }, "Rasterizing..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fire()
			if got := s.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}
