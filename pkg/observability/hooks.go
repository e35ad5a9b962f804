// Package observability lets callers observe rendermill without the core
// packages importing a metrics or tracing library.
//
// Each subsystem reports through one hook interface: [PipelineHooks] for
// state transitions and backend attempts, [PoolHooks] for session lifecycle,
// [CacheHooks], [StoreHooks] for uploads and [HTTPHooks] for the server.
// Every interface has a Noop implementation that is installed by default.
//
// Hooks are installed once at startup by the binary, never by libraries:
//
//	observability.SetPipelineHooks(observability.NewLogHooks(logger))
//
// and emitted from the instrumented code:
//
//	observability.Pipeline().OnFallback(ctx, "browser", "external", err)
//
// [LogHooks] implements every interface with debug log lines.
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from the render pipeline.
type PipelineHooks interface {
	// OnTransition records a state machine transition.
	OnTransition(ctx context.Context, from, to string)

	// Render events, once per backend attempt
	OnRenderStart(ctx context.Context, backend string)
	OnRenderComplete(ctx context.Context, backend string, duration time.Duration, err error)

	// OnFallback records a retry on the next backend after a render failure.
	OnFallback(ctx context.Context, from, to string, cause error)

	// OnComplete records the terminal outcome. kind is empty on success.
	OnComplete(ctx context.Context, kind string, duration time.Duration)
}

// =============================================================================
// Pool Hooks
// =============================================================================

// PoolHooks receives events from the render session pool.
type PoolHooks interface {
	// OnAcquire records a finished acquisition attempt and how long it waited.
	OnAcquire(ctx context.Context, backend string, wait time.Duration, err error)

	// OnSessionCreated records the startup of a new rendering context.
	OnSessionCreated(backend string, duration time.Duration, err error)

	// OnSessionDestroyed records a destroyed session and why.
	OnSessionDestroyed(backend, reason string)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	OnCacheHit(ctx context.Context, keyType string)
	OnCacheMiss(ctx context.Context, keyType string)
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// Store Hooks
// =============================================================================

// StoreHooks receives events from artifact store uploads.
type StoreHooks interface {
	OnUpload(ctx context.Context, store string, size int, duration time.Duration, err error)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from the HTTP server.
type HTTPHooks interface {
	OnRequest(ctx context.Context, method, path string)
	OnResponse(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPipelineHooks ignores every event.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnTransition(context.Context, string, string)                   {}
func (NoopPipelineHooks) OnRenderStart(context.Context, string)                          {}
func (NoopPipelineHooks) OnRenderComplete(context.Context, string, time.Duration, error) {}
func (NoopPipelineHooks) OnFallback(context.Context, string, string, error)              {}
func (NoopPipelineHooks) OnComplete(context.Context, string, time.Duration)              {}

type NoopPoolHooks struct{}

func (NoopPoolHooks) OnAcquire(context.Context, string, time.Duration, error) {}
func (NoopPoolHooks) OnSessionCreated(string, time.Duration, error)           {}
func (NoopPoolHooks) OnSessionDestroyed(string, string)                       {}

type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

type NoopStoreHooks struct{}

func (NoopStoreHooks) OnUpload(context.Context, string, int, time.Duration, error) {}

type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string)                         {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, int, time.Duration) {}

// =============================================================================
// Registry
// =============================================================================

// slot holds one installed hook implementation.
type slot[T any] struct {
	mu sync.RWMutex
	h  T
}

func (s *slot[T]) get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h
}

func (s *slot[T]) set(h T) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

var (
	pipelineSlot = &slot[PipelineHooks]{h: NoopPipelineHooks{}}
	poolSlot     = &slot[PoolHooks]{h: NoopPoolHooks{}}
	cacheSlot    = &slot[CacheHooks]{h: NoopCacheHooks{}}
	storeSlot    = &slot[StoreHooks]{h: NoopStoreHooks{}}
	httpSlot     = &slot[HTTPHooks]{h: NoopHTTPHooks{}}
)

// SetPipelineHooks installs h for pipeline events. A nil h is ignored.
func SetPipelineHooks(h PipelineHooks) {
	if h != nil {
		pipelineSlot.set(h)
	}
}

func SetPoolHooks(h PoolHooks) {
	if h != nil {
		poolSlot.set(h)
	}
}

func SetCacheHooks(h CacheHooks) {
	if h != nil {
		cacheSlot.set(h)
	}
}

func SetStoreHooks(h StoreHooks) {
	if h != nil {
		storeSlot.set(h)
	}
}

func SetHTTPHooks(h HTTPHooks) {
	if h != nil {
		httpSlot.set(h)
	}
}

// Pipeline returns the installed pipeline hooks.
func Pipeline() PipelineHooks { return pipelineSlot.get() }

// Pool returns the installed session pool hooks.
func Pool() PoolHooks { return poolSlot.get() }

func Cache() CacheHooks { return cacheSlot.get() }

func Store() StoreHooks { return storeSlot.get() }

func HTTP() HTTPHooks { return httpSlot.get() }

// Reset reinstalls the no-op hooks. Commands that install temporary hooks
// defer it.
func Reset() {
	pipelineSlot.set(NoopPipelineHooks{})
	poolSlot.set(NoopPoolHooks{})
	cacheSlot.set(NoopCacheHooks{})
	storeSlot.set(NoopStoreHooks{})
	httpSlot.set(NoopHTTPHooks{})
}
