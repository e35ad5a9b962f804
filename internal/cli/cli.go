package cli

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/buildinfo"
	"github.com/matzehuels/rendermill/pkg/cache"
	"github.com/matzehuels/rendermill/pkg/config"
	"github.com/matzehuels/rendermill/pkg/pipeline"
	"github.com/matzehuels/rendermill/pkg/pool"
	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/store"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "rendermill"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Rendermill turns Mermaid source into hosted images",
		Long:          `Rendermill renders Mermaid diagram source to SVG or PNG through a chain of rendering backends and publishes the result to an artifact store.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "TOML config file (environment variables override it)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.backendsCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

func (c *CLI) loadConfig() (*config.Config, error) {
	return config.Load(c.configPath)
}

// =============================================================================
// Environment Factory
// =============================================================================

// envOptions adjusts how an environment is assembled for one command.
type envOptions struct {
	// Backend restricts the selector to one kind when set.
	Backend backend.Kind
	// NoCache replaces the configured cache with a null cache.
	NoCache bool
	// Store opens the artifact store. Local renders skip it.
	Store bool
}

// environment holds the long-lived components built from a Config.
type environment struct {
	cfg      *config.Config
	selector *backend.Selector
	pool     *pool.Pool
	cache    cache.Cache
	store    store.Store
	runner   *pipeline.Runner
}

// newEnvironment builds the selector, pool, cache, store and runner.
// The caller must Close it.
func (c *CLI) newEnvironment(ctx context.Context, cfg *config.Config, opts envOptions) (*environment, error) {
	e := &environment{cfg: cfg}

	e.selector = backend.NewDefaultSelector(cfg.SelectorOptions(), c.Logger)
	if opts.Backend != "" {
		only, err := e.selector.Only(opts.Backend)
		if err != nil {
			return nil, err
		}
		e.selector = only
	}

	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	if e.pool, err = pool.New(pc, c.Logger); err != nil {
		return nil, err
	}

	e.cache = cache.NewNullCache()
	if !opts.NoCache {
		cc, err := cfg.OpenCache(ctx)
		if err != nil {
			e.Close(ctx)
			return nil, err
		}
		e.cache = cc
	}

	if opts.Store {
		st, err := store.New(ctx, cfg.Store)
		if err != nil {
			e.Close(ctx)
			return nil, err
		}
		e.store = st
	}

	e.runner, err = pipeline.NewRunner(pipeline.Config{
		Selector:   e.selector,
		Pool:       e.pool,
		Rasterizer: render.NewRasterizer(cfg.RasterOptions()),
		Store:      e.store,
		Cache:      e.cache,
		Keyer:      artifactKeyer(cfg),
		CacheTTL:   cfg.Cache.TTL,
		Timeout:    cfg.Server.RequestTimeout,
		Logger:     c.Logger,

		DefaultFolder: cfg.Store.Folder,
		DefaultFormat: render.Format(cfg.Render.Format),
	})
	if err != nil {
		e.Close(ctx)
		return nil, err
	}
	return e, nil
}

// artifactKeyer scopes cached artifacts by theme so that changing the theme
// does not serve images rendered under the old one.
func artifactKeyer(cfg *config.Config) cache.Keyer {
	if cfg.Backends.Theme == "" {
		return cache.NewDefaultKeyer()
	}
	return cache.NewScopedKeyer(nil, "theme-"+cfg.Backends.Theme)
}

// Close tears down the pool, cache and store.
func (e *environment) Close(ctx context.Context) error {
	var errList []error
	if e.pool != nil {
		errList = append(errList, e.pool.Close())
	}
	if e.cache != nil {
		errList = append(errList, e.cache.Close())
	}
	if e.store != nil {
		errList = append(errList, e.store.Close(context.WithoutCancel(ctx)))
	}
	return errors.Join(errList...)
}
