package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/cache"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/render"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith("", envOf(nil))
	if err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Render.Format != string(render.FormatPNG) {
		t.Errorf("Format = %q, want png", cfg.Render.Format)
	}
	if cfg.Store.Folder != "mermaid-diagrams" {
		t.Errorf("Folder = %q", cfg.Store.Folder)
	}
	if cfg.Cache.Kind != CacheNone {
		t.Errorf("Cache.Kind = %q", cfg.Cache.Kind)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rendermill.toml")
	content := `
[server]
port = 8080
request_timeout = "20s"

[backends]
disabled = ["browser"]
theme = "dark"

[pool]
max_sessions = 2
idle_ttl = "1m"
per_kind = { external = 1 }

[render]
format = "svg"
scale = 1.5

[store]
kind = "file"
dir = "/var/lib/rendermill"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWith(path, envOf(nil))
	if err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.RequestTimeout != 20*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Render.Format != "svg" || cfg.Render.Scale != 1.5 {
		t.Errorf("render = %+v", cfg.Render)
	}
	// unset values keep their defaults
	if cfg.Server.MaxSourceBytes != DefaultMaxSourceBytes {
		t.Errorf("MaxSourceBytes = %d", cfg.Server.MaxSourceBytes)
	}

	opts := cfg.SelectorOptions()
	if len(opts.Disabled) != 1 || opts.Disabled[0] != backend.KindBrowser {
		t.Errorf("Disabled = %v", opts.Disabled)
	}
	if opts.Browser.Theme != "dark" || opts.External.Theme != "dark" {
		t.Error("theme should reach both mermaid backends")
	}

	pc, err := cfg.PoolConfig()
	if err != nil {
		t.Fatal(err)
	}
	if pc.MaxSessions != 2 || pc.IdleTTL != time.Minute || pc.PerKind[backend.KindExternal] != 1 {
		t.Errorf("pool = %+v", pc)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := LoadWith("", envOf(map[string]string{
		"PORT":                        "4000",
		"CLOUDINARY_CLOUD_NAME":       "demo",
		"CLOUDINARY_API_KEY":          "key",
		"CLOUDINARY_API_SECRET":       "secret",
		"CHROME_PATH":                 "/opt/chrome",
		"MERMAID_CLI":                 "/usr/local/bin/mmdc",
		"REDIS_URL":                   "redis://localhost:6379/0",
		"RENDERMILL_DISABLE_BACKENDS": "wasm, cli",
		"RENDERMILL_FORMAT":           "svg",
		"RENDERMILL_ACQUIRE_TIMEOUT":  "3s",
	}))
	if err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Store.Cloudinary.CloudName != "demo" || cfg.Store.Cloudinary.APISecret != "secret" {
		t.Errorf("cloudinary = %+v", cfg.Store.Cloudinary)
	}
	if cfg.Backends.Browser.Path != "/opt/chrome" || cfg.Backends.External.Command != "/usr/local/bin/mmdc" {
		t.Errorf("backends = %+v", cfg.Backends)
	}
	if cfg.Cache.Kind != CacheRedis {
		t.Errorf("REDIS_URL should enable the redis cache, got %q", cfg.Cache.Kind)
	}
	if cfg.Pool.AcquireTimeout != 3*time.Second {
		t.Errorf("AcquireTimeout = %v", cfg.Pool.AcquireTimeout)
	}
	opts := cfg.SelectorOptions()
	if len(opts.Disabled) != 2 || opts.Disabled[0] != backend.KindInProcess || opts.Disabled[1] != backend.KindExternal {
		t.Errorf("Disabled = %v", opts.Disabled)
	}
	if err := cfg.Store.ValidateAndSetDefaults(); err != nil {
		t.Errorf("store config from env should validate: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "http"}},
		{"port range", map[string]string{"PORT": "70000"}},
		{"bad duration", map[string]string{"RENDERMILL_IDLE_TTL": "soon"}},
		{"bad format", map[string]string{"RENDERMILL_FORMAT": "gif"}},
		{"bad backend", map[string]string{"RENDERMILL_DISABLE_BACKENDS": "svgbob"}},
		{"bad engine", map[string]string{"RENDERMILL_RASTER_ENGINE": "inkscape"}},
		{"bad cache", map[string]string{"RENDERMILL_CACHE": "memcached"}},
		{"redis without url", map[string]string{"RENDERMILL_CACHE": "redis"}},
		{"public url scheme", map[string]string{"RENDERMILL_PUBLIC_URL": "ftp://files.example.com"}},
		{"script url scheme", map[string]string{"RENDERMILL_MERMAID_SCRIPT": "file:///tmp/mermaid.js"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith("", envOf(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errs.Is(err, errs.ErrCodeInvalidInput) && !errs.Is(err, errs.ErrCodeInvalidFormat) {
				t.Errorf("err = %v, want an invalid input code", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadWith(filepath.Join(t.TempDir(), "nope.toml"), envOf(nil)); err == nil {
		t.Error("missing config file should fail")
	}
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	c, err := cfg.OpenCache(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(cache.NullCache); !ok {
		t.Errorf("default cache = %T, want NullCache", c)
	}

	cfg.Cache = CacheConfig{Kind: CacheFile, Dir: t.TempDir()}
	c, err = cfg.OpenCache(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*cache.FileCache); !ok {
		t.Errorf("file cache = %T", c)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	cfg.Cache = CacheConfig{Kind: CacheRedis, RedisURL: "redis://" + mr.Addr()}
	c, err = cfg.OpenCache(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, ok := c.(*cache.RedisCache); !ok {
		t.Errorf("redis cache = %T", c)
	}
}
