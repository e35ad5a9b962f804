package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/observability"
	"github.com/matzehuels/rendermill/pkg/server"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP rendering service",
		Long: `Run the HTTP rendering service.

POST /api/mermaid accepts {"mermaidCode": "..."} (or the raw source) and
answers {"success": true, "url": "..."} once the image is in the store.
GET /api/backends reports backend availability and pool usage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}

			ctx := cmd.Context()
			observability.NewLogHooks(c.Logger).Register()
			defer observability.Reset()

			e, err := c.newEnvironment(ctx, cfg, envOptions{Store: true})
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			prog := newProgress(c.Logger)
			for _, p := range e.selector.Probe() {
				c.Logger.Info("backend", "kind", p.Kind, "available", p.Available)
			}
			prog.done("Probed backends")
			if _, err := e.selector.Select(); err != nil {
				c.Logger.Warn("no backend available, every request will fail until one is installed")
			}
			if platform, ok := backend.DetectServerless(backend.OSEnv); ok {
				c.Logger.Info("serverless platform detected", "platform", platform)
			}

			srv, err := server.New(server.Config{
				Runner:          e.runner,
				Pool:            e.pool,
				Store:           e.store,
				MaxSourceBytes:  cfg.Server.MaxSourceBytes,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				Logger:          c.Logger,
			})
			if err != nil {
				return err
			}

			c.Logger.Info("store ready", "kind", e.store.Name())
			if err := srv.Run(ctx, cfg.Server.Addr()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides PORT)")
	cmd.Flags().StringVar(&host, "host", "", "listen address (overrides RENDERMILL_HOST)")

	return cmd
}
