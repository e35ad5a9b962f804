package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/rendermill/pkg/backend"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/session"
)

type fakeHandle struct {
	closed atomic.Int32
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

// fakeOpener hands out fakeHandles and remembers them.
type fakeOpener struct {
	kind backend.Kind
	fail error

	mu      sync.Mutex
	handles []*fakeHandle
}

func (o *fakeOpener) Kind() backend.Kind { return o.kind }

func (o *fakeOpener) Open(context.Context) (session.Handle, error) {
	if o.fail != nil {
		return nil, o.fail
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &fakeHandle{}
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

func (o *fakeOpener) closedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, h := range o.handles {
		n += int(h.closed.Load())
	}
	return n
}

func newPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.EvictInterval == 0 {
		cfg.EvictInterval = time.Hour
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func statsFor(p *Pool, k backend.Kind) Stats {
	for _, s := range p.Stats() {
		if s.Kind == k {
			return s
		}
	}
	return Stats{Kind: k}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	if err := c.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	if c.MaxSessions != DefaultMaxSessions || c.AcquireTimeout != DefaultAcquireTimeout || c.IdleTTL != DefaultIdleTTL {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.EvictInterval != DefaultIdleTTL/2 {
		t.Errorf("EvictInterval = %v, want %v", c.EvictInterval, DefaultIdleTTL/2)
	}

	bad := Config{MaxSessions: -1}
	if err := bad.ValidateAndSetDefaults(); !errs.Is(err, errs.ErrCodeInvalidInput) {
		t.Errorf("negative MaxSessions error = %v", err)
	}
	bad = Config{PerKind: map[backend.Kind]int{backend.KindBrowser: 0}}
	if err := bad.ValidateAndSetDefaults(); err == nil {
		t.Error("zero per-kind capacity should be rejected")
	}
}

func TestAcquireReusesIdleSession(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 2})
	o := &fakeOpener{kind: backend.KindBrowser}
	ctx := context.Background()

	s1, err := p.Acquire(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s1)

	s2, err := p.Acquire(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("idle session should be reused")
	}
	if o.opened() != 1 {
		t.Errorf("opened %d sessions, want 1", o.opened())
	}
	if s2.Uses() != 2 {
		t.Errorf("Uses() = %d, want 2", s2.Uses())
	}
	p.Release(s2)
}

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 3
	p := newPool(t, Config{MaxSessions: capacity, AcquireTimeout: 5 * time.Second})
	o := &fakeOpener{kind: backend.KindInProcess}

	var (
		inUse, peak atomic.Int32
		wg          sync.WaitGroup
	)
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background(), o)
			if err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			n := inUse.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			if st := statsFor(p, backend.KindInProcess); st.Live > capacity {
				t.Errorf("live = %d exceeds capacity %d", st.Live, capacity)
			}
			time.Sleep(time.Millisecond)
			inUse.Add(-1)
			p.Release(s)
		}()
	}
	wg.Wait()

	if peak.Load() > capacity {
		t.Errorf("peak concurrent sessions = %d, want <= %d", peak.Load(), capacity)
	}
	if o.opened() > capacity {
		t.Errorf("opened %d sessions, want <= %d", o.opened(), capacity)
	}
	st := statsFor(p, backend.KindInProcess)
	if st.InUse != 0 || st.Live != st.Idle {
		t.Errorf("after all releases stats = %+v", st)
	}
}

func TestAcquireTimesOutWithPoolExhausted(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 1, AcquireTimeout: 30 * time.Millisecond})
	o := &fakeOpener{kind: backend.KindBrowser}

	held, err := p.Acquire(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(held)

	start := time.Now()
	_, err = p.Acquire(context.Background(), o)
	if !errs.Is(err, errs.ErrCodePoolExhausted) {
		t.Fatalf("Acquire() error = %v, want POOL_EXHAUSTED", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Acquire() should wait for the timeout before failing")
	}
	if st := statsFor(p, backend.KindBrowser); st.Timeouts != 1 || st.Live != 1 {
		t.Errorf("stats = %+v, want 1 timeout and 1 live", st)
	}
}

func TestWaiterWakesOnRelease(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 1, AcquireTimeout: 5 * time.Second})
	o := &fakeOpener{kind: backend.KindExternal}

	held, err := p.Acquire(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan *session.Session, 1)
	go func() {
		s, err := p.Acquire(context.Background(), o)
		if err != nil {
			t.Errorf("waiting Acquire() error: %v", err)
		}
		got <- s
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(held)

	select {
	case s := <-got:
		if s != held {
			t.Error("waiter should receive the released session")
		}
		p.Release(s)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Release")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 1, AcquireTimeout: 5 * time.Second})
	o := &fakeOpener{kind: backend.KindBrowser}

	held, err := p.Acquire(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, o); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context deadline", err)
	}
}

func TestUnhealthySessionIsDestroyed(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 1})
	o := &fakeOpener{kind: backend.KindBrowser}
	ctx := context.Background()

	s, err := p.Acquire(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	s.MarkUnhealthy()
	p.Release(s)

	if o.closedCount() != 1 {
		t.Errorf("closed %d handles, want 1", o.closedCount())
	}
	st := statsFor(p, backend.KindBrowser)
	if st.Live != 0 || st.Destroyed != 1 {
		t.Errorf("stats = %+v, want 0 live and 1 destroyed", st)
	}

	s2, err := p.Acquire(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Error("destroyed session must not be reused")
	}
	p.Release(s2)
}

func TestDestroyAndDoubleRelease(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 2})
	o := &fakeOpener{kind: backend.KindInProcess}

	s, err := p.Acquire(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	p.Destroy(s)
	p.Release(s)
	p.Destroy(s)

	if o.closedCount() != 1 {
		t.Errorf("handle closed %d times, want exactly 1", o.closedCount())
	}
	st := statsFor(p, backend.KindInProcess)
	if st.Live != 0 || st.Destroyed != 1 || st.InUse != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestOpenFailureFreesSlot(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 1, AcquireTimeout: 50 * time.Millisecond})
	o := &fakeOpener{kind: backend.KindBrowser, fail: errors.New("chromium crashed")}

	_, err := p.Acquire(context.Background(), o)
	if !errs.Is(err, errs.ErrCodeRenderFailure) {
		t.Fatalf("Acquire() error = %v, want RENDER_FAILURE", err)
	}
	if st := statsFor(p, backend.KindBrowser); st.Live != 0 {
		t.Errorf("live = %d after failed open, want 0", st.Live)
	}

	o.fail = nil
	s, err := p.Acquire(context.Background(), o)
	if err != nil {
		t.Fatalf("slot should be free after failed open: %v", err)
	}
	p.Release(s)
}

func TestEvictIdleSessions(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 2, IdleTTL: 10 * time.Millisecond})
	o := &fakeOpener{kind: backend.KindBrowser}
	ctx := context.Background()

	a, _ := p.Acquire(ctx, o)
	b, _ := p.Acquire(ctx, o)
	p.Release(a)
	time.Sleep(25 * time.Millisecond)
	p.Release(b)

	if n := p.Evict(); n != 1 {
		t.Errorf("Evict() = %d, want 1", n)
	}
	st := statsFor(p, backend.KindBrowser)
	if st.Idle != 1 || st.Live != 1 {
		t.Errorf("stats = %+v, want 1 idle and 1 live", st)
	}
}

func TestEvictLoopRuns(t *testing.T) {
	p := newPool(t, Config{MaxSessions: 1, IdleTTL: 5 * time.Millisecond, EvictInterval: 5 * time.Millisecond})
	o := &fakeOpener{kind: backend.KindExternal}

	s, err := p.Acquire(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.closedCount() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("eviction loop did not destroy the idle session")
}

func TestPerKindCapacity(t *testing.T) {
	p := newPool(t, Config{
		MaxSessions:    4,
		AcquireTimeout: 20 * time.Millisecond,
		PerKind:        map[backend.Kind]int{backend.KindBrowser: 1},
	})
	br := &fakeOpener{kind: backend.KindBrowser}
	inp := &fakeOpener{kind: backend.KindInProcess}
	ctx := context.Background()

	held, err := p.Acquire(ctx, br)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(held)

	if _, err := p.Acquire(ctx, br); !errs.Is(err, errs.ErrCodePoolExhausted) {
		t.Errorf("browser should be capped at 1, got %v", err)
	}
	s, err := p.Acquire(ctx, inp)
	if err != nil {
		t.Errorf("other kinds keep their own capacity: %v", err)
	}
	p.Release(s)
}

func TestCloseDestroysEverything(t *testing.T) {
	p, err := New(Config{MaxSessions: 2, EvictInterval: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	o := &fakeOpener{kind: backend.KindBrowser}
	ctx := context.Background()

	idle, _ := p.Acquire(ctx, o)
	busy, _ := p.Acquire(ctx, o)
	p.Release(idle)

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if o.closedCount() != 1 {
		t.Errorf("Close should destroy the idle session, closed = %d", o.closedCount())
	}

	p.Release(busy)
	if o.closedCount() != 2 {
		t.Errorf("release after Close should destroy, closed = %d", o.closedCount())
	}

	if _, err := p.Acquire(ctx, o); err == nil {
		t.Error("Acquire after Close should fail")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
