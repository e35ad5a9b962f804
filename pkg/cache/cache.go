// Package cache stores rendered artifacts keyed by content hash.
//
// Identical diagrams rendered with the same backend, format and scale
// produce identical bytes, so the pipeline can skip the render entirely on a
// hit. Three implementations are provided:
//
//   - [NullCache]: caching disabled
//   - [FileCache]: one JSON file per entry, for the CLI
//   - [RedisCache]: shared cache for multi-instance servers
//
// Keys are built by a [Keyer] so that namespaces stay consistent between the
// CLI and the server.
package cache

import (
	"context"
	"strconv"
	"time"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultArtifactTTL is how long rendered artifacts are kept.
	DefaultArtifactTTL = 7 * 24 * time.Hour

	// DefaultProbeTTL is how long a backend availability report is kept.
	DefaultProbeTTL = time.Minute
)

// Cache is a byte store with per-entry expiry. A miss is (nil, false, nil);
// errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ArtifactKeyOpts are the render settings that change an artifact's bytes.
type ArtifactKeyOpts struct {
	Backend string  `json:"backend"`
	Format  string  `json:"format"`
	Scale   float64 `json:"scale,omitempty"`
}

// Keyer builds cache keys.
type Keyer interface {
	// ArtifactKey identifies a rendered artifact by sanitized-source hash.
	ArtifactKey(sourceHash string, opts ArtifactKeyOpts) string

	// ProbeKey identifies a backend availability report for a host.
	ProbeKey(host string) string
}

// DefaultKeyer produces keys of the form "artifact:<sha256>" and
// "probe:<host>".
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default key scheme.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

func (DefaultKeyer) ArtifactKey(sourceHash string, opts ArtifactKeyOpts) string {
	return hashKey("artifact", sourceHash, opts.Backend, opts.Format, strconv.FormatFloat(opts.Scale, 'f', -1, 64))
}

func (DefaultKeyer) ProbeKey(host string) string {
	return "probe:" + host
}
