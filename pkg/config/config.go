// Package config loads rendermill settings.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults ([Default])
//  2. an optional TOML file
//  3. a .env file in the working directory, when present
//  4. environment variables
//
// The environment names follow the hosted deployment conventions (PORT,
// CLOUDINARY_URL, REDIS_URL, ...) with RENDERMILL_* for everything else.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/cache"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/pool"
	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/store"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	DefaultPort            = 3000
	DefaultMaxSourceBytes  = 256 << 10
	DefaultRequestTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultCacheDir        = "rendermill"
)

// Cache kinds.
const (
	CacheNone  = "none"
	CacheFile  = "file"
	CacheRedis = "redis"
)

// Config is the complete rendermill configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Backends BackendsConfig `toml:"backends"`
	Pool     PoolConfig     `toml:"pool"`
	Render   RenderConfig   `toml:"render"`
	Cache    CacheConfig    `toml:"cache"`
	Store    store.Config   `toml:"store"`
}

type ServerConfig struct {
	Port            int           `toml:"port"`
	Host            string        `toml:"host"`
	MaxSourceBytes  int64         `toml:"max_source_bytes"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type BrowserConfig struct {
	Path      string        `toml:"path"`
	ScriptURL string        `toml:"script_url"`
	Timeout   time.Duration `toml:"timeout"`
	NoSandbox bool          `toml:"no_sandbox"`
}

type ExternalConfig struct {
	Command         string        `toml:"command"`
	PuppeteerConfig string        `toml:"puppeteer_config"`
	Timeout         time.Duration `toml:"timeout"`
}

type BackendsConfig struct {
	Disabled []string       `toml:"disabled"`
	Theme    string         `toml:"theme"`
	Browser  BrowserConfig  `toml:"browser"`
	External ExternalConfig `toml:"external"`
}

type PoolConfig struct {
	MaxSessions    int            `toml:"max_sessions"`
	AcquireTimeout time.Duration  `toml:"acquire_timeout"`
	IdleTTL        time.Duration  `toml:"idle_ttl"`
	PerKind        map[string]int `toml:"per_kind"`
}

type RenderConfig struct {
	Format       string  `toml:"format"`
	Scale        float64 `toml:"scale"`
	Background   string  `toml:"background"`
	MaxDimension int     `toml:"max_dimension"`
	Engine       string  `toml:"engine"`
}

type CacheConfig struct {
	Kind     string        `toml:"kind"`
	Dir      string        `toml:"dir"`
	RedisURL string        `toml:"redis_url"`
	Prefix   string        `toml:"prefix"`
	TTL      time.Duration `toml:"ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			MaxSourceBytes:  DefaultMaxSourceBytes,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Backends: BackendsConfig{
			Browser: BrowserConfig{
				ScriptURL: backend.DefaultMermaidScript,
				Timeout:   backend.DefaultBrowserTimeout,
			},
			External: ExternalConfig{
				Command: backend.DefaultMermaidCLI,
				Timeout: backend.DefaultExternalTimeout,
			},
		},
		Pool: PoolConfig{
			MaxSessions:    pool.DefaultMaxSessions,
			AcquireTimeout: pool.DefaultAcquireTimeout,
			IdleTTL:        pool.DefaultIdleTTL,
		},
		Render: RenderConfig{
			Format:       string(render.DefaultFormat),
			Scale:        render.DefaultScale,
			MaxDimension: render.DefaultMaxDimension,
			Engine:       string(render.EngineAuto),
		},
		Cache: CacheConfig{
			Kind: CacheNone,
			TTL:  cache.DefaultArtifactTTL,
		},
		Store: store.Config{
			Kind:          store.DefaultKind,
			Folder:        store.DefaultFolder,
			UploadTimeout: store.DefaultUploadTimeout,
		},
	}
}

// Load builds the configuration from path (optional), .env and the process
// environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup and no .env file.
func LoadWith(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "read config %s", path)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var firstErr error
	num := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := set(v); err != nil && firstErr == nil {
				firstErr = errs.Wrap(errs.ErrCodeInvalidInput, err, "%s=%q", key, v)
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		num(key, func(v string) error {
			d, err := time.ParseDuration(v)
			*dst = d
			return err
		})
	}

	num("PORT", func(v string) (err error) { c.Server.Port, err = strconv.Atoi(v); return })
	str(&c.Server.Host, "RENDERMILL_HOST")
	num("RENDERMILL_MAX_SOURCE_BYTES", func(v string) (err error) {
		c.Server.MaxSourceBytes, err = strconv.ParseInt(v, 10, 64)
		return
	})
	dur("RENDERMILL_REQUEST_TIMEOUT", &c.Server.RequestTimeout)

	if v, ok := lookup("RENDERMILL_DISABLE_BACKENDS"); ok && v != "" {
		c.Backends.Disabled = splitList(v)
	}
	str(&c.Backends.Theme, "RENDERMILL_THEME")
	str(&c.Backends.Browser.Path, "CHROME_PATH", "RENDERMILL_CHROME_PATH")
	str(&c.Backends.Browser.ScriptURL, "RENDERMILL_MERMAID_SCRIPT")
	num("RENDERMILL_NO_SANDBOX", func(v string) (err error) { c.Backends.Browser.NoSandbox, err = strconv.ParseBool(v); return })
	str(&c.Backends.External.Command, "MERMAID_CLI", "RENDERMILL_MERMAID_CLI")

	num("RENDERMILL_MAX_SESSIONS", func(v string) (err error) { c.Pool.MaxSessions, err = strconv.Atoi(v); return })
	dur("RENDERMILL_ACQUIRE_TIMEOUT", &c.Pool.AcquireTimeout)
	dur("RENDERMILL_IDLE_TTL", &c.Pool.IdleTTL)

	str(&c.Render.Format, "RENDERMILL_FORMAT")
	num("RENDERMILL_SCALE", func(v string) (err error) { c.Render.Scale, err = strconv.ParseFloat(v, 64); return })
	str(&c.Render.Background, "RENDERMILL_BACKGROUND")
	str(&c.Render.Engine, "RENDERMILL_RASTER_ENGINE")

	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Cache.RedisURL = v
		if c.Cache.Kind == CacheNone {
			c.Cache.Kind = CacheRedis
		}
	}
	str(&c.Cache.Kind, "RENDERMILL_CACHE")
	str(&c.Cache.Dir, "RENDERMILL_CACHE_DIR")

	str(&c.Store.Kind, "RENDERMILL_STORE")
	str(&c.Store.Folder, "RENDERMILL_FOLDER")
	str(&c.Store.PublicURL, "RENDERMILL_PUBLIC_URL")
	str(&c.Store.Dir, "RENDERMILL_ARTIFACT_DIR")
	str(&c.Store.Cloudinary.URL, "CLOUDINARY_URL")
	str(&c.Store.Cloudinary.CloudName, "CLOUDINARY_CLOUD_NAME")
	str(&c.Store.Cloudinary.APIKey, "CLOUDINARY_API_KEY")
	str(&c.Store.Cloudinary.APISecret, "CLOUDINARY_API_SECRET")
	str(&c.Store.GridFS.URI, "MONGO_URI", "MONGODB_URI")
	str(&c.Store.GridFS.Database, "RENDERMILL_MONGO_DATABASE")
	return firstErr
}

func splitList(v string) []string {
	var out []string
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks values that cannot be defaulted. It does not check store
// credentials; commands that upload call Store.ValidateAndSetDefaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errs.New(errs.ErrCodeInvalidInput, "invalid port %d", c.Server.Port)
	}
	if c.Server.MaxSourceBytes <= 0 {
		return errs.New(errs.ErrCodeInvalidInput, "max_source_bytes must be positive")
	}
	if _, err := render.ParseFormat(c.Render.Format); err != nil {
		return err
	}
	switch render.Engine(c.Render.Engine) {
	case "", render.EngineAuto, render.EngineRSVG, render.EngineNative:
	default:
		return errs.New(errs.ErrCodeInvalidInput, "unknown raster engine %q", c.Render.Engine)
	}
	if _, err := c.disabledKinds(); err != nil {
		return err
	}
	if _, err := c.PoolConfig(); err != nil {
		return err
	}
	for _, u := range []string{c.Store.PublicURL, c.Backends.Browser.ScriptURL} {
		if u == "" {
			continue
		}
		if err := errs.ValidateURL(u); err != nil {
			return err
		}
	}
	switch c.Cache.Kind {
	case "", CacheNone, CacheFile:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return errs.New(errs.ErrCodeInvalidInput, "redis cache needs redis_url")
		}
	default:
		return errs.New(errs.ErrCodeInvalidInput, "unknown cache kind %q", c.Cache.Kind)
	}
	return nil
}

func (c *Config) disabledKinds() ([]backend.Kind, error) {
	out := make([]backend.Kind, 0, len(c.Backends.Disabled))
	for _, s := range c.Backends.Disabled {
		k, err := backend.ParseKind(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// SelectorOptions converts the backend section.
func (c *Config) SelectorOptions() backend.Options {
	disabled, _ := c.disabledKinds()
	return backend.Options{
		Disabled: disabled,
		Browser: backend.BrowserOptions{
			Path:          c.Backends.Browser.Path,
			ScriptURL:     c.Backends.Browser.ScriptURL,
			Theme:         c.Backends.Theme,
			RenderTimeout: c.Backends.Browser.Timeout,
			NoSandbox:     c.Backends.Browser.NoSandbox,
		},
		External: backend.ExternalOptions{
			Command:         c.Backends.External.Command,
			Theme:           c.Backends.Theme,
			PuppeteerConfig: c.Backends.External.PuppeteerConfig,
			Timeout:         c.Backends.External.Timeout,
		},
	}
}

// PoolConfig converts the pool section.
func (c *Config) PoolConfig() (pool.Config, error) {
	pc := pool.Config{
		MaxSessions:    c.Pool.MaxSessions,
		AcquireTimeout: c.Pool.AcquireTimeout,
		IdleTTL:        c.Pool.IdleTTL,
	}
	if len(c.Pool.PerKind) > 0 {
		pc.PerKind = make(map[backend.Kind]int, len(c.Pool.PerKind))
		for name, n := range c.Pool.PerKind {
			k, err := backend.ParseKind(name)
			if err != nil {
				return pool.Config{}, err
			}
			pc.PerKind[k] = n
		}
	}
	return pc, pc.ValidateAndSetDefaults()
}

// RasterOptions converts the render section.
func (c *Config) RasterOptions() render.RasterOptions {
	return render.RasterOptions{
		Scale:        c.Render.Scale,
		Background:   c.Render.Background,
		MaxDimension: c.Render.MaxDimension,
		Engine:       render.Engine(c.Render.Engine),
	}
}
