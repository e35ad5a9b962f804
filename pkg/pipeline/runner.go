package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/cache"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/observability"
	"github.com/matzehuels/rendermill/pkg/pool"
	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/sanitize"
	"github.com/matzehuels/rendermill/pkg/store"
)

// Config wires a Runner. Selector and Pool are required; Store is required
// by Execute only.
type Config struct {
	Selector   *backend.Selector
	Pool       *pool.Pool
	Rasterizer *render.Rasterizer
	Store      store.Store
	Cache      cache.Cache
	Keyer      cache.Keyer
	CacheTTL   time.Duration
	Timeout    time.Duration
	Logger     *log.Logger

	// DefaultFolder and DefaultFormat apply to requests that leave the
	// field empty.
	DefaultFolder string
	DefaultFormat render.Format
}

// Runner executes requests. It holds no per-request state and is safe for
// concurrent use.
type Runner struct {
	selector   *backend.Selector
	pool       *pool.Pool
	rasterizer *render.Rasterizer
	store      store.Store
	cache      cache.Cache
	keyer      cache.Keyer
	cacheTTL   time.Duration
	timeout    time.Duration
	logger     *log.Logger

	defaultFolder string
	defaultFormat render.Format
}

// NewRunner validates cfg and fills in a null cache, the default keyer, a
// default rasterizer and a discard logger where unset.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Selector == nil {
		return nil, errs.New(errs.ErrCodeInternal, "pipeline needs a backend selector")
	}
	if cfg.Pool == nil {
		return nil, errs.New(errs.ErrCodeInternal, "pipeline needs a session pool")
	}
	r := &Runner{
		selector:   cfg.Selector,
		pool:       cfg.Pool,
		rasterizer: cfg.Rasterizer,
		store:      cfg.Store,
		cache:      cfg.Cache,
		keyer:      cfg.Keyer,
		cacheTTL:   cfg.CacheTTL,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,

		defaultFolder: cfg.DefaultFolder,
		defaultFormat: cfg.DefaultFormat,
	}
	if r.rasterizer == nil {
		r.rasterizer = render.NewRasterizer(render.RasterOptions{})
	}
	if r.cache == nil {
		r.cache = cache.NewNullCache()
	}
	if r.keyer == nil {
		r.keyer = cache.NewDefaultKeyer()
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = cache.DefaultArtifactTTL
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return r, nil
}

// Selector returns the runner's backend selector.
func (r *Runner) Selector() *backend.Selector { return r.selector }

// Execute runs the full pipeline and always returns a Result whose final
// state is Completed or Failed.
func (r *Runner) Execute(ctx context.Context, req Request) *Result {
	return r.run(ctx, req, true)
}

// RenderOnly stops after rasterizing. The artifact is in Result.Artifact.
func (r *Runner) RenderOnly(ctx context.Context, req Request) *Result {
	return r.run(ctx, req, false)
}

func (r *Runner) run(ctx context.Context, req Request, upload bool) *Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	x := &execution{r: r, ctx: ctx, res: &Result{}, start: time.Now()}
	x.enter(StateReceived)

	if req.Folder == "" {
		req.Folder = r.defaultFolder
	}
	if req.Format == "" {
		req.Format = string(r.defaultFormat)
	}
	if err := req.ValidateAndSetDefaults(); err != nil {
		return x.fail(err)
	}
	if upload && r.store == nil {
		return x.fail(errs.New(errs.ErrCodeInternal, "no artifact store configured"))
	}

	t := time.Now()
	src := sanitize.Sanitize(req.Source)
	x.res.Stats.Sanitize = time.Since(t)
	if strings.TrimSpace(string(src)) == "" {
		return x.fail(errs.New(errs.ErrCodeInvalidInput, "nothing left to render after sanitization"))
	}
	x.enter(StateSanitized)

	raster, err := x.produce(src, req)
	if err != nil {
		return x.fail(err)
	}
	x.res.Artifact = raster

	if !upload {
		return x.complete()
	}

	// no upload once the request is cancelled
	if err := ctx.Err(); err != nil {
		return x.fail(err)
	}
	x.enter(StateUploading)
	t = time.Now()
	up, err := r.store.Upload(ctx, raster.Data, store.UploadOptions{Folder: req.Folder, Format: string(raster.Format)})
	x.res.Stats.Upload = time.Since(t)
	if err != nil {
		return x.fail(errs.Wrap(errs.CodeOr(err, errs.ErrCodeUploadFailure), err, "upload"))
	}
	x.res.Outcome.URL = up.SecureURL
	return x.complete()
}

// execution is the mutable state of one run.
type execution struct {
	r     *Runner
	ctx   context.Context
	res   *Result
	start time.Time
}

func (x *execution) enter(s State) {
	var from State
	if n := len(x.res.States); n > 0 {
		from = x.res.States[n-1]
	}
	x.res.States = append(x.res.States, s)
	observability.Pipeline().OnTransition(x.ctx, string(from), string(s))
	x.r.logger.Debug("state", "from", from, "to", s)
}

func (x *execution) fail(err error) *Result {
	// Only the request's own deadline or cancellation is a TIMEOUT. Timeouts
	// inside a backend or the store keep the code they were wrapped with.
	code := errs.CodeOr(err, errs.ErrCodeInternal)
	if x.ctx.Err() != nil {
		code = errs.ErrCodeTimeout
	}
	x.res.Err = err
	x.res.Outcome = Outcome{Kind: code, Message: FailureMessage}
	if code == errs.ErrCodeInvalidInput || code == errs.ErrCodeInvalidFormat {
		x.res.Outcome.Message = errs.UserMessage(err)
	}
	x.enter(StateFailed)
	x.finish()
	x.r.logger.Warn("pipeline failed", "kind", code, "error", err, "backend", x.res.Backend, "duration", x.res.Stats.Total)
	return x.res
}

func (x *execution) complete() *Result {
	x.enter(StateCompleted)
	x.finish()
	x.r.logger.Info("pipeline completed",
		"backend", x.res.Backend,
		"format", x.res.Artifact.Format,
		"bytes", len(x.res.Artifact.Data),
		"cached", x.res.CacheHit,
		"duration", x.res.Stats.Total)
	return x.res
}

func (x *execution) finish() {
	x.res.Stats.Total = time.Since(x.start)
	observability.Pipeline().OnComplete(x.ctx, string(x.res.Outcome.Kind), x.res.Stats.Total)
}

// produce selects a backend and renders, falling back once, then
// rasterizes. Cached artifacts skip the session entirely.
func (x *execution) produce(src sanitize.Source, req Request) (render.Raster, error) {
	nextAdapter, stop := iter.Pull(x.r.selector.Chain())
	defer stop()

	a, ok := nextAdapter()
	if !ok {
		return render.Raster{}, errs.New(errs.ErrCodeNoBackend, "no rendering backend available")
	}
	x.res.Backend = a.Kind()
	x.enter(StateBackendSelected)

	sourceHash := cache.HashString(string(src))
	keyFor := func(k backend.Kind) string {
		return x.r.keyer.ArtifactKey(sourceHash, cache.ArtifactKeyOpts{
			Backend: string(k),
			Format:  string(req.format),
			Scale:   x.r.rasterizer.Scale(),
		})
	}
	x.enter(StateRendering)
	if !req.Refresh {
		if data, hit, err := x.r.cache.Get(x.ctx, keyFor(a.Kind())); err == nil && hit {
			observability.Cache().OnCacheHit(x.ctx, "artifact")
			x.res.CacheHit = true
			x.res.Attempts = append(x.res.Attempts, a.Kind())
			return render.Raster{Data: data, Format: req.format}, nil
		}
		observability.Cache().OnCacheMiss(x.ctx, "artifact")
	}

	t := time.Now()
	var (
		vec render.Vector
		err error
	)
	for attempt := 1; ; attempt++ {
		x.res.Backend = a.Kind()
		x.res.Attempts = append(x.res.Attempts, a.Kind())
		vec, err = x.renderWith(a, src)
		if err == nil {
			break
		}
		if !errs.Is(err, errs.ErrCodeRenderFailure) || x.ctx.Err() != nil || attempt >= MaxRenderAttempts {
			return render.Raster{}, err
		}
		b, ok := nextAdapter()
		if !ok {
			return render.Raster{}, err
		}
		observability.Pipeline().OnFallback(x.ctx, string(a.Kind()), string(b.Kind()), err)
		x.r.logger.Warn("render failed, falling back", "from", a.Kind(), "to", b.Kind(), "error", err)
		a = b
	}
	x.res.Stats.Render = time.Since(t)

	raster := render.Raster{Data: vec.Data, Format: vec.Format}
	if vec.Format != req.format {
		x.enter(StateRasterizing)
		t = time.Now()
		raster, err = x.r.rasterizer.ToRaster(x.ctx, vec, req.format)
		x.res.Stats.Rasterize = time.Since(t)
		if err != nil {
			return render.Raster{}, err
		}
	}

	// stored under the backend that actually rendered, which differs from
	// the lookup key after a fallback
	if err := x.r.cache.Set(x.ctx, keyFor(a.Kind()), raster.Data, x.r.cacheTTL); err != nil {
		x.r.logger.Warn("cache artifact", "error", err)
	} else {
		observability.Cache().OnCacheSet(x.ctx, "artifact", len(raster.Data))
	}
	return raster, nil
}

// renderWith borrows a session from the pool, renders and gives the
// session back before returning. Sessions that failed a render are
// destroyed; sessions of a cancelled request are destroyed too.
func (x *execution) renderWith(a backend.Adapter, src sanitize.Source) (render.Vector, error) {
	s, err := x.r.pool.Acquire(x.ctx, a)
	if err != nil {
		return render.Vector{}, err
	}

	kind := string(a.Kind())
	observability.Pipeline().OnRenderStart(x.ctx, kind)
	t := time.Now()
	vec, err := a.Render(x.ctx, s.Handle, src)
	observability.Pipeline().OnRenderComplete(x.ctx, kind, time.Since(t), err)

	switch {
	case x.ctx.Err() != nil:
		x.r.pool.Destroy(s)
		if err == nil {
			err = x.ctx.Err()
		}
	case err != nil && !errors.Is(err, backend.ErrUnsupportedDiagram):
		x.r.pool.Destroy(s)
	default:
		x.r.pool.Release(s)
	}
	if err != nil {
		return render.Vector{}, err
	}
	x.r.logger.Debug("rendered", "backend", kind, "session", s.ID, "width", vec.Width, "height", vec.Height)
	return vec, nil
}
