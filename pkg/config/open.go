package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/matzehuels/rendermill/pkg/cache"
)

// OpenCache builds the configured artifact cache. A file cache without a
// directory lives under the user cache directory.
func (c *Config) OpenCache(ctx context.Context) (cache.Cache, error) {
	switch c.Cache.Kind {
	case CacheFile:
		dir := c.Cache.Dir
		if dir == "" {
			dir = DefaultCachePath()
		}
		return cache.NewFileCache(dir)
	case CacheRedis:
		return cache.NewRedisCache(ctx, cache.RedisConfig{URL: c.Cache.RedisURL, Prefix: c.Cache.Prefix})
	default:
		return cache.NewNullCache(), nil
	}
}

// DefaultCachePath returns $XDG_CACHE_HOME/rendermill, falling back to the
// OS user cache directory and then the temp directory.
func DefaultCachePath() string {
	if x := os.Getenv("XDG_CACHE_HOME"); x != "" {
		return filepath.Join(x, DefaultCacheDir)
	}
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, DefaultCacheDir)
	}
	return filepath.Join(os.TempDir(), DefaultCacheDir)
}
