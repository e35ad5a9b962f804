package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/sanitize"
	"github.com/matzehuels/rendermill/pkg/session"
)

const (
	// DefaultMermaidCLI is the Mermaid command line tool.
	DefaultMermaidCLI = "mmdc"

	// DefaultExternalTimeout bounds one CLI invocation.
	DefaultExternalTimeout = 30 * time.Second
)

// ExternalOptions configures the external process adapter.
type ExternalOptions struct {
	Command         string
	Theme           string
	PuppeteerConfig string
	Timeout         time.Duration
	Env             Env
}

// External renders diagrams by running the Mermaid CLI as a child process.
type External struct {
	opts   ExternalOptions
	logger *log.Logger

	probeOnce sync.Once
	bin       string
	available bool
}

// NewExternal creates the external process adapter.
func NewExternal(opts ExternalOptions, logger *log.Logger) *External {
	if opts.Command == "" {
		opts.Command = DefaultMermaidCLI
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultExternalTimeout
	}
	if opts.Env == nil {
		opts.Env = OSEnv
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &External{opts: opts, logger: logger}
}

func (a *External) Kind() Kind { return KindExternal }

// Available reports whether the CLI resolves to an executable.
func (a *External) Available() bool {
	a.probeOnce.Do(func() {
		cmd := a.opts.Command
		if strings.ContainsRune(cmd, os.PathSeparator) {
			a.bin, a.available = cmd, a.opts.Env.Exists(cmd)
			return
		}
		if p, err := a.opts.Env.LookPath(cmd); err == nil {
			a.bin, a.available = p, true
		}
	})
	return a.available
}

// scratchDir is a private working directory for one session.
type scratchDir string

func (d scratchDir) Close() error { return os.RemoveAll(string(d)) }

// Open creates the session's scratch directory.
func (a *External) Open(ctx context.Context) (session.Handle, error) {
	dir, err := os.MkdirTemp("", "rendermill-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return scratchDir(dir), nil
}

// Render writes the source to a uniquely named file, runs the CLI and reads
// back the SVG. Both files are removed afterwards.
func (a *External) Render(ctx context.Context, h session.Handle, src sanitize.Source) (render.Vector, error) {
	dir, ok := h.(scratchDir)
	if !ok {
		return render.Vector{}, renderFailure(KindExternal, nil, "foreign session handle %T", h)
	}
	if !a.Available() {
		return render.Vector{}, renderFailure(KindExternal, nil, "%s not found", a.opts.Command)
	}

	name := uuid.NewString()
	in := filepath.Join(string(dir), name+".mmd")
	out := filepath.Join(string(dir), name+".svg")
	defer os.Remove(in)
	defer os.Remove(out)

	if err := os.WriteFile(in, []byte(src), 0o600); err != nil {
		return render.Vector{}, renderFailure(KindExternal, err, "write input")
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.bin, a.args(in, out)...)
	cmd.Dir = string(dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return render.Vector{}, renderFailure(KindExternal, err, "%s: %s", a.opts.Command, strings.TrimSpace(stderr.String()))
	}
	a.logger.Debug("mermaid cli finished", "duration", time.Since(start))

	svg, err := os.ReadFile(out)
	if err != nil {
		return render.Vector{}, renderFailure(KindExternal, err, "read output")
	}
	if !bytes.Contains(svg, []byte("<svg")) {
		return render.Vector{}, renderFailure(KindExternal, nil, "output is not svg")
	}
	return render.NewVector(svg), nil
}

func (a *External) args(in, out string) []string {
	args := []string{"-i", in, "-o", out, "-b", "transparent", "-q"}
	if a.opts.Theme != "" {
		args = append(args, "-t", a.opts.Theme)
	}
	if a.opts.PuppeteerConfig != "" {
		args = append(args, "-p", a.opts.PuppeteerConfig)
	}
	return args
}
