package observability

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// LogHooks writes every event as a debug log line.
type LogHooks struct {
	Logger *log.Logger
}

// NewLogHooks creates hooks that log to logger.
func NewLogHooks(logger *log.Logger) *LogHooks {
	return &LogHooks{Logger: logger}
}

// Register installs h for every hook category.
func (h *LogHooks) Register() {
	SetPipelineHooks(h)
	SetPoolHooks(h)
	SetCacheHooks(h)
	SetStoreHooks(h)
	SetHTTPHooks(h)
}

func (h *LogHooks) OnTransition(_ context.Context, from, to string) {
	h.Logger.Debug("transition", "from", from, "to", to)
}

func (h *LogHooks) OnRenderStart(_ context.Context, backend string) {
	h.Logger.Debug("render start", "backend", backend)
}

func (h *LogHooks) OnRenderComplete(_ context.Context, backend string, d time.Duration, err error) {
	h.Logger.Debug("render done", "backend", backend, "duration", d, "error", err)
}

func (h *LogHooks) OnFallback(_ context.Context, from, to string, cause error) {
	h.Logger.Debug("fallback", "from", from, "to", to, "cause", cause)
}

func (h *LogHooks) OnComplete(_ context.Context, kind string, d time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	h.Logger.Debug("pipeline done", "outcome", kind, "duration", d)
}

func (h *LogHooks) OnAcquire(_ context.Context, backend string, wait time.Duration, err error) {
	h.Logger.Debug("session acquired", "backend", backend, "wait", wait, "error", err)
}

func (h *LogHooks) OnSessionCreated(backend string, d time.Duration, err error) {
	h.Logger.Debug("session created", "backend", backend, "duration", d, "error", err)
}

func (h *LogHooks) OnSessionDestroyed(backend, reason string) {
	h.Logger.Debug("session destroyed", "backend", backend, "reason", reason)
}

func (h *LogHooks) OnCacheHit(_ context.Context, keyType string) {
	h.Logger.Debug("cache hit", "type", keyType)
}

func (h *LogHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.Logger.Debug("cache miss", "type", keyType)
}

func (h *LogHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.Logger.Debug("cache set", "type", keyType, "bytes", size)
}

func (h *LogHooks) OnUpload(_ context.Context, store string, size int, d time.Duration, err error) {
	h.Logger.Debug("upload", "store", store, "bytes", size, "duration", d, "error", err)
}

func (h *LogHooks) OnRequest(_ context.Context, method, path string) {
	h.Logger.Debug("request", "method", method, "path", path)
}

func (h *LogHooks) OnResponse(_ context.Context, method, path string, status int, d time.Duration) {
	h.Logger.Debug("response", "method", method, "path", path, "status", status, "duration", d)
}
