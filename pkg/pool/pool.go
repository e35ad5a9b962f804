// Package pool manages reusable render sessions.
//
// Starting a rendering context (a browser process, a Graphviz runtime) is
// expensive, so sessions are kept after use and lent to the next request.
// The pool caps the number of live sessions per backend kind: idle and
// borrowed sessions together never exceed the configured maximum. Callers
// beyond capacity wait until a session is released or the acquire timeout
// elapses, which yields POOL_EXHAUSTED.
//
// Every Acquire must be matched by exactly one Release or Destroy:
//
//	s, err := p.Acquire(ctx, adapter)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(s)
//
// Release returns healthy sessions to the idle list and destroys unhealthy
// ones. A background loop destroys sessions idle for longer than IdleTTL.
package pool

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/rendermill/pkg/backend"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/observability"
	"github.com/matzehuels/rendermill/pkg/session"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultMaxSessions caps live sessions per backend kind.
	DefaultMaxSessions = 4

	// DefaultAcquireTimeout bounds how long Acquire waits for a free slot.
	DefaultAcquireTimeout = 10 * time.Second

	// DefaultIdleTTL is how long an unused session is kept.
	DefaultIdleTTL = 5 * time.Minute
)

// Config configures a Pool.
type Config struct {
	MaxSessions    int
	AcquireTimeout time.Duration
	IdleTTL        time.Duration

	// EvictInterval is how often idle sessions are checked. Zero derives it
	// from IdleTTL.
	EvictInterval time.Duration

	// PerKind overrides MaxSessions for individual backends.
	PerKind map[backend.Kind]int
}

// ValidateAndSetDefaults fills in zero values.
func (c *Config) ValidateAndSetDefaults() error {
	if c.MaxSessions < 0 {
		return errs.New(errs.ErrCodeInvalidInput, "max sessions cannot be negative")
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	if c.EvictInterval <= 0 {
		c.EvictInterval = max(c.IdleTTL/2, time.Second)
	}
	for k, n := range c.PerKind {
		if n <= 0 {
			return errs.New(errs.ErrCodeInvalidInput, "max sessions for %s must be positive", k)
		}
	}
	return nil
}

func (c *Config) capacity(kind backend.Kind) int {
	if n, ok := c.PerKind[kind]; ok {
		return n
	}
	return c.MaxSessions
}

// Opener creates rendering contexts. Every backend.Adapter is an Opener.
type Opener interface {
	Kind() backend.Kind
	Open(ctx context.Context) (session.Handle, error)
}

// Stats is a snapshot of one kind's accounting.
type Stats struct {
	Kind      backend.Kind `json:"kind"`
	Max       int          `json:"max"`
	Live      int          `json:"live"`
	Idle      int          `json:"idle"`
	InUse     int          `json:"in_use"`
	Created   int          `json:"created"`
	Destroyed int          `json:"destroyed"`
	Timeouts  int          `json:"timeouts"`
}

// Pool lends sessions to requests with a per-kind cap.
type Pool struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	kinds  map[backend.Kind]*kindPool
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// kindPool holds the sessions of one backend kind. live counts idle,
// borrowed and in-creation sessions.
type kindPool struct {
	max      int
	live     int
	idle     []*session.Session
	borrowed map[*session.Session]struct{}
	wake     chan struct{}

	created, destroyed, timeouts int
}

// New creates a pool and starts its eviction loop.
func New(cfg Config, logger *log.Logger) (*Pool, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		kinds:  make(map[backend.Kind]*kindPool),
		stop:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.evictLoop()
	return p, nil
}

// kind returns the sub-pool for k. Caller holds p.mu.
func (p *Pool) kind(k backend.Kind) *kindPool {
	kp, ok := p.kinds[k]
	if !ok {
		kp = &kindPool{
			max:      p.cfg.capacity(k),
			borrowed: make(map[*session.Session]struct{}),
			wake:     make(chan struct{}),
		}
		p.kinds[k] = kp
	}
	return kp
}

// broadcast wakes every waiter of kp. Caller holds p.mu.
func (kp *kindPool) broadcast() {
	close(kp.wake)
	kp.wake = make(chan struct{})
}

// Acquire borrows a session for o's kind, reusing an idle one when
// possible. It waits while the kind is at capacity and fails with
// POOL_EXHAUSTED after AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context, o Opener) (*session.Session, error) {
	start := time.Now()
	s, err := p.acquire(ctx, o)
	observability.Pool().OnAcquire(ctx, string(o.Kind()), time.Since(start), err)
	return s, err
}

func (p *Pool) acquire(ctx context.Context, o Opener) (*session.Session, error) {
	k := o.Kind()
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errs.New(errs.ErrCodeInternal, "session pool is closed")
		}
		kp := p.kind(k)

		if n := len(kp.idle); n > 0 {
			s := kp.idle[n-1]
			kp.idle = kp.idle[:n-1]
			kp.borrowed[s] = struct{}{}
			p.mu.Unlock()
			s.Touch()
			return s, nil
		}

		if kp.live < kp.max {
			kp.live++
			p.mu.Unlock()
			return p.create(ctx, o)
		}

		wake := kp.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			p.mu.Lock()
			kp.timeouts++
			p.mu.Unlock()
			return nil, errs.New(errs.ErrCodePoolExhausted, "no %s session available within %s", k, p.cfg.AcquireTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// create opens a new session. The slot was reserved by the caller.
func (p *Pool) create(ctx context.Context, o Opener) (*session.Session, error) {
	k := o.Kind()
	start := time.Now()
	h, err := o.Open(ctx)
	observability.Pool().OnSessionCreated(string(k), time.Since(start), err)

	p.mu.Lock()
	defer p.mu.Unlock()
	kp := p.kind(k)
	if err != nil {
		kp.live--
		kp.broadcast()
		return nil, errs.Wrap(errs.ErrCodeRenderFailure, err, "open %s session", k)
	}

	s := session.New(string(k), h)
	s.Touch()
	kp.created++
	kp.borrowed[s] = struct{}{}
	p.logger.Debug("session created", "backend", k, "id", s.ID, "duration", time.Since(start))
	return s, nil
}

// Release returns a borrowed session. Unhealthy sessions, and every
// session after Close, are destroyed instead of kept. Releasing a session
// that is not borrowed is a no-op.
func (p *Pool) Release(s *session.Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	kp := p.kind(backend.Kind(s.Kind))
	if _, ok := kp.borrowed[s]; !ok {
		p.mu.Unlock()
		p.logger.Warn("release of session not borrowed", "backend", s.Kind, "id", s.ID)
		return
	}
	delete(kp.borrowed, s)

	if !s.Healthy() || p.closed {
		reason := "unhealthy"
		if p.closed {
			reason = "closed"
		}
		kp.live--
		kp.destroyed++
		kp.broadcast()
		p.mu.Unlock()
		p.closeSession(s, reason)
		return
	}

	s.MarkIdle()
	kp.idle = append(kp.idle, s)
	kp.broadcast()
	p.mu.Unlock()
}

// Destroy discards a borrowed session regardless of its health, as on
// cancellation.
func (p *Pool) Destroy(s *session.Session) {
	if s == nil {
		return
	}
	s.MarkUnhealthy()
	p.Release(s)
}

func (p *Pool) closeSession(s *session.Session, reason string) {
	if err := s.Close(); err != nil {
		p.logger.Warn("close session", "backend", s.Kind, "id", s.ID, "error", err)
	}
	observability.Pool().OnSessionDestroyed(s.Kind, reason)
	p.logger.Debug("session destroyed", "backend", s.Kind, "id", s.ID, "reason", reason)
}

// Stats returns a snapshot per kind that has been used.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, 0, len(p.kinds))
	for _, k := range backend.Kinds {
		kp, ok := p.kinds[k]
		if !ok {
			continue
		}
		out = append(out, Stats{
			Kind:      k,
			Max:       kp.max,
			Live:      kp.live,
			Idle:      len(kp.idle),
			InUse:     len(kp.borrowed),
			Created:   kp.created,
			Destroyed: kp.destroyed,
			Timeouts:  kp.timeouts,
		})
	}
	return out
}

// Evict destroys sessions idle for longer than IdleTTL and returns how many
// were destroyed. The eviction loop calls it periodically.
func (p *Pool) Evict() int {
	var expired []*session.Session

	p.mu.Lock()
	for _, kp := range p.kinds {
		kept := kp.idle[:0]
		for _, s := range kp.idle {
			if s.IsIdleExpired(p.cfg.IdleTTL) {
				expired = append(expired, s)
				kp.live--
				kp.destroyed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) != len(kp.idle) {
			kp.idle = kept
			kp.broadcast()
		}
	}
	p.mu.Unlock()

	for _, s := range expired {
		p.closeSession(s, "idle")
	}
	return len(expired)
}

func (p *Pool) evictLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Evict()
		case <-p.stop:
			return
		}
	}
}

// Close stops eviction and destroys idle sessions. Borrowed sessions are
// destroyed when released. Waiting acquirers fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var idle []*session.Session
	for _, kp := range p.kinds {
		idle = append(idle, kp.idle...)
		kp.live -= len(kp.idle)
		kp.destroyed += len(kp.idle)
		kp.idle = nil
		kp.broadcast()
	}
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()

	for _, s := range idle {
		p.closeSession(s, "closed")
	}
	return nil
}
