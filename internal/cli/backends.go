package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/config"
)

// backendsCommand reports which backends this host can use.
func (c *CLI) backendsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Show which rendering backends are available",
		Long: `Probe every configured rendering backend in preference order.

The in-process backend needs nothing external. The browser backend needs a
Chromium binary (CHROME_PATH or a standard install). The external backend
needs the Mermaid CLI (mmdc) on PATH.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			prog := newProgress(c.Logger)
			rows := probeBackends(cfg, backend.NewDefaultSelector(cfg.SelectorOptions(), c.Logger), backend.OSEnv)
			c.Logger.Debugf("probed %d backends", len(rows))

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			printNewline()
			fmt.Println(backendTable(rows, -1))
			printNewline()
			prog.done("Probed backends")

			if platform, ok := backend.DetectServerless(backend.OSEnv); ok {
				printWarning("Running on %s: browser rendering needs an explicit Chromium path", platform)
			}
			if !anyAvailable(rows) {
				printError("No rendering backend is available")
				printNextStep("Install the Mermaid CLI", "npm install -g @mermaid-js/mermaid-cli")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// probeBackends runs the selector's probes and annotates each result with
// what was found on the host.
func probeBackends(cfg *config.Config, sel *backend.Selector, env backend.Env) []backendRow {
	probes := sel.Probe()
	rows := make([]backendRow, 0, len(probes))
	for _, p := range probes {
		rows = append(rows, backendRow{
			Kind:      p.Kind,
			Available: p.Available,
			Detail:    backendDetail(cfg, p, env),
		})
	}
	return rows
}

func backendDetail(cfg *config.Config, p backend.ProbeResult, env backend.Env) string {
	switch p.Kind {
	case backend.KindInProcess:
		return "graphviz (flowcharts)"
	case backend.KindBrowser:
		if platform, ok := backend.DetectServerless(env); ok && cfg.Backends.Browser.Path == "" {
			return "disabled on " + platform
		}
		if path, ok := backend.FindBrowser(env, cfg.Backends.Browser.Path); ok {
			return path
		}
		if p.Available {
			return "rod-managed Chromium"
		}
		return "no Chromium found"
	case backend.KindExternal:
		command := cfg.Backends.External.Command
		if command == "" {
			command = backend.DefaultMermaidCLI
		}
		if path, err := env.LookPath(command); err == nil {
			return path
		}
		if env.Exists(command) {
			return command
		}
		return command + " not on PATH"
	}
	return ""
}

func anyAvailable(rows []backendRow) bool {
	for _, r := range rows {
		if r.Available {
			return true
		}
	}
	return false
}
