// Package pipeline turns diagram source into an uploaded artifact.
//
// One request runs through a fixed sequence of steps, each recorded as a
// [State]:
//
//  1. Sanitize: neutralize markup in the untrusted source
//  2. Select: pick the most preferred available backend
//  3. Render: borrow a session from the pool and render to SVG, falling
//     back once to the next backend on RENDER_FAILURE
//  4. Rasterize: convert to PNG when requested
//  5. Upload: hand the bytes to the artifact store
//
// The session is back in the pool before rasterizing starts, so a slow
// store never holds a browser hostage. Nothing is uploaded once the
// request's context is done.
//
// # Usage
//
//	runner, err := pipeline.NewRunner(pipeline.Config{
//	    Selector:   sel,
//	    Pool:       pool,
//	    Rasterizer: render.NewRasterizer(render.RasterOptions{}),
//	    Store:      st,
//	})
//	res := runner.Execute(ctx, pipeline.Request{Source: "graph TD; A-->B"})
//	if res.Outcome.Failed() {
//	    return res.Outcome.Kind
//	}
//	fmt.Println(res.Outcome.URL)
//
// The CLI uses [Runner.RenderOnly] to skip the upload and write the artifact
// locally.
package pipeline

import (
	"slices"
	"time"

	"github.com/matzehuels/rendermill/pkg/backend"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/store"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultTimeout bounds one request end to end.
	DefaultTimeout = 60 * time.Second

	// MaxRenderAttempts is the first backend plus one fallback.
	MaxRenderAttempts = 2
)

// FailureMessage is the user-facing text for every failed outcome. The
// machine-readable kind tells callers what went wrong.
const FailureMessage = "Failed to generate diagram"

// Request is one render job.
type Request struct {
	Source string `json:"mermaidCode"`
	Format string `json:"format,omitempty"`
	Folder string `json:"folder,omitempty"`

	// Refresh skips the artifact cache lookup.
	Refresh bool `json:"-"`

	format render.Format
}

// ValidateAndSetDefaults checks the source and fills in format and folder.
func (r *Request) ValidateAndSetDefaults() error {
	if err := errs.ValidateSource(r.Source, 0); err != nil {
		return err
	}
	f, err := render.ParseFormat(r.Format)
	if err != nil {
		return err
	}
	r.format = f
	r.Format = string(f)
	if r.Folder == "" {
		r.Folder = store.DefaultFolder
	}
	return errs.ValidateFolder(r.Folder)
}

// Outcome is the terminal value of a run: a URL or a failure kind, never
// both.
type Outcome struct {
	URL     string    `json:"url,omitempty"`
	Kind    errs.Code `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Failed reports whether the run ended in Failed.
func (o Outcome) Failed() bool { return o.Kind != "" }

// Stats holds per-step timings.
type Stats struct {
	Sanitize  time.Duration `json:"sanitize"`
	Render    time.Duration `json:"render"`
	Rasterize time.Duration `json:"rasterize"`
	Upload    time.Duration `json:"upload"`
	Total     time.Duration `json:"total"`
}

// Result describes a finished run.
type Result struct {
	Outcome Outcome `json:"outcome"`

	// States is the path taken through the state machine, ending in
	// Completed or Failed.
	States []State `json:"states"`

	// Backend rendered the artifact. Attempts lists every backend tried.
	Backend  backend.Kind   `json:"backend,omitempty"`
	Attempts []backend.Kind `json:"attempts,omitempty"`

	CacheHit bool  `json:"cache_hit"`
	Stats    Stats `json:"stats"`

	// Artifact holds the final bytes. It is kept for RenderOnly callers.
	Artifact render.Raster `json:"-"`

	// Err is the underlying error of a failed run.
	Err error `json:"-"`
}

// Final returns the last recorded state.
func (r *Result) Final() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Visited reports whether the run passed through s.
func (r *Result) Visited(s State) bool {
	return slices.Contains(r.States, s)
}
