package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/config"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/observability"
	"github.com/matzehuels/rendermill/pkg/pipeline"
	"github.com/matzehuels/rendermill/pkg/render"
)

// formatPDF is a CLI-only output format. The diagram is rendered as SVG and
// converted locally with librsvg.
const formatPDF = "pdf"

// stdinName is the input argument that reads the source from stdin.
const stdinName = "-"

// renderOpts holds the flags of the render command.
type renderOpts struct {
	output  string
	format  string
	backend string
	pick    bool
	upload  bool
	folder  string
	noCache bool
	refresh bool
}

// renderCommand creates the render command.
func (c *CLI) renderCommand() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Render a Mermaid diagram to SVG, PNG or PDF",
		Long: `Render a Mermaid diagram through the same pipeline the HTTP service uses.

The source is read from the file argument, or from stdin when the argument is
"-" or missing. Without --upload the artifact is written to a local file;
with --upload it is published to the configured store and its URL printed.`,
		Example: `  rendermill render flow.mmd
  rendermill render flow.mmd -f svg -o flow.svg
  cat flow.mmd | rendermill render --upload
  rendermill render flow.mmd --pick`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := stdinName
			if len(args) == 1 {
				input = args[0]
			}
			return c.runRender(cmd.Context(), input, cmd.InOrStdin(), &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", `output file ("-" for stdout; default derived from input)`)
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: png (default), svg, pdf")
	cmd.Flags().StringVarP(&opts.backend, "backend", "b", "", "force one backend: inprocess, browser, external")
	cmd.Flags().BoolVar(&opts.pick, "pick", false, "choose the backend interactively")
	cmd.Flags().BoolVar(&opts.upload, "upload", false, "publish to the artifact store and print the URL")
	cmd.Flags().StringVar(&opts.folder, "folder", "", "store folder for --upload")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the artifact cache")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "ignore cached artifacts but store the new one")
	cmd.MarkFlagsMutuallyExclusive("backend", "pick")

	return cmd
}

func (c *CLI) runRender(ctx context.Context, input string, stdin io.Reader, opts *renderOpts) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	src, err := readSource(input, stdin)
	if err != nil {
		return err
	}
	format, err := resolveFormat(opts.format, opts.output, cfg.Render.Format)
	if err != nil {
		return err
	}
	if format == formatPDF && opts.upload {
		return errs.New(errs.ErrCodeInvalidFormat, "pdf output cannot be uploaded (use png or svg)")
	}

	kind, err := c.chooseBackend(cfg, opts)
	if err != nil {
		return err
	}

	e, err := c.newEnvironment(ctx, cfg, envOptions{Backend: kind, NoCache: opts.noCache, Store: opts.upload})
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	req := pipeline.Request{Source: src, Format: format, Folder: opts.folder, Refresh: opts.refresh}
	if format == formatPDF {
		req.Format = string(render.FormatSVG)
	}

	res := c.execute(ctx, e.runner, req, opts.upload)
	if res.Outcome.Failed() {
		if res.Err != nil {
			return res.Err
		}
		return errs.New(res.Outcome.Kind, "%s", res.Outcome.Message)
	}

	data := res.Artifact.Data
	if format == formatPDF {
		if data, err = render.ToPDF(ctx, data); err != nil {
			return errs.Wrap(errs.ErrCodeConversionFailure, err, "svg to pdf")
		}
	}

	if opts.upload {
		printSuccess("Uploaded %s", format)
		printKeyValue("url", StyleLink.Render(res.Outcome.URL))
		printStats(res)
		if opts.output == "" {
			return nil
		}
	}

	path := outputPath(opts.output, input, format)
	if err := writeOutput(path, data); err != nil {
		return err
	}
	if path != stdinName {
		if !opts.upload {
			printSuccess("Rendered %s", format)
			printStats(res)
		}
		printFile(path)
	}
	return nil
}

// execute runs the pipeline with a spinner, or with debug log hooks in
// verbose mode.
func (c *CLI) execute(ctx context.Context, r *pipeline.Runner, req pipeline.Request, upload bool) *pipeline.Result {
	defer observability.Reset()

	run := r.RenderOnly
	if upload {
		run = r.Execute
	}

	if c.Logger.GetLevel() <= log.DebugLevel {
		observability.NewLogHooks(c.Logger).Register()
		return run(ctx, req)
	}

	s := startSpinner(ctx, os.Stderr, "Starting...")
	observability.SetPipelineHooks(spinnerHooks{s: s})
	res := run(ctx, req)
	s.Stop()
	return res
}

// chooseBackend resolves --backend or runs the --pick dialog. An empty kind
// keeps the full fallback chain.
func (c *CLI) chooseBackend(cfg *config.Config, opts *renderOpts) (backend.Kind, error) {
	if opts.backend != "" {
		return backend.ParseKind(opts.backend)
	}
	if !opts.pick {
		return "", nil
	}
	rows := probeBackends(cfg, backend.NewDefaultSelector(cfg.SelectorOptions(), c.Logger), backend.OSEnv)
	if !anyAvailable(rows) {
		return "", errs.New(errs.ErrCodeNoBackend, "no rendering backend available")
	}
	kind, err := pickBackend(rows)
	if err != nil {
		return "", err
	}
	if kind == "" {
		return "", context.Canceled
	}
	return kind, nil
}

// =============================================================================
// Input & Output
// =============================================================================

// readSource reads the diagram from a file or, for "-", from stdin.
func readSource(input string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if input == stdinName {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", input, err)
	}
	return string(data), nil
}

// resolveFormat picks the output format: the flag wins, then the output
// file extension, then the configured default.
func resolveFormat(flag, output, configured string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(flag))
	if f == "" && output != "" && output != stdinName {
		f = strings.ToLower(strings.TrimPrefix(filepath.Ext(output), "."))
	}
	if f == "" {
		f = configured
	}
	if f == formatPDF {
		return formatPDF, nil
	}
	parsed, err := render.ParseFormat(f)
	if err != nil {
		return "", errs.New(errs.ErrCodeInvalidFormat, "invalid format %q (must be 'png', 'svg' or 'pdf')", f)
	}
	return string(parsed), nil
}

// outputPath returns output when set, else the input name with the format
// extension, else "diagram.<format>" for stdin input.
func outputPath(output, input, format string) string {
	if output != "" {
		return output
	}
	if input == stdinName {
		return "diagram." + format
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + "." + format
}

// writeOutput writes data to path, or to stdout for "-".
func writeOutput(path string, data []byte) error {
	if path == stdinName {
		_, err := os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
