package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/config"
	errs "github.com/matzehuels/rendermill/pkg/errors"
)

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name       string
		flag       string
		output     string
		configured string
		want       string
		wantErr    bool
	}{
		{"flag wins", "svg", "out.png", "png", "svg", false},
		{"flag is case insensitive", "PNG", "", "", "png", false},
		{"from output extension", "", "out.svg", "png", "svg", false},
		{"pdf from extension", "", "docs/flow.PDF", "", "pdf", false},
		{"stdout falls back to config", "", "-", "svg", "svg", false},
		{"config default", "", "", "svg", "svg", false},
		{"empty everywhere is png", "", "", "", "png", false},
		{"unknown flag", "gif", "", "", "", true},
		{"unknown extension", "", "out.jpeg", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveFormat(tt.flag, tt.output, tt.configured)
			if tt.wantErr {
				if !errs.Is(err, errs.ErrCodeInvalidFormat) {
					t.Fatalf("resolveFormat() error = %v, want INVALID_FORMAT", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveFormat() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		output, input, format, want string
	}{
		{"out.png", "flow.mmd", "png", "out.png"},
		{"", "flow.mmd", "svg", "flow.svg"},
		{"", "docs/flow.mermaid", "png", "docs/flow.png"},
		{"", "-", "png", "diagram.png"},
		{"-", "flow.mmd", "svg", "-"},
	}
	for _, tt := range tests {
		if got := outputPath(tt.output, tt.input, tt.format); got != tt.want {
			t.Errorf("outputPath(%q, %q, %q) = %q, want %q", tt.output, tt.input, tt.format, got, tt.want)
		}
	}
}

func TestReadSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.mmd")
	if err := os.WriteFile(path, []byte("graph TD; A-->B"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readSource(path, nil)
	if err != nil || got != "graph TD; A-->B" {
		t.Errorf("readSource(file) = %q, %v", got, err)
	}

	got, err = readSource("-", strings.NewReader("graph LR; X-->Y"))
	if err != nil || got != "graph LR; X-->Y" {
		t.Errorf("readSource(stdin) = %q, %v", got, err)
	}

	if _, err := readSource(filepath.Join(t.TempDir(), "missing.mmd"), nil); err == nil {
		t.Error("readSource() should fail for a missing file")
	}
}

func TestWriteOutputCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.svg")
	if err := writeOutput(path, []byte("<svg/>")); err != nil {
		t.Fatalf("writeOutput() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "<svg/>" {
		t.Errorf("written file = %q, %v", data, err)
	}
}

func TestChooseBackend(t *testing.T) {
	c := New(io.Discard, LogInfo)
	cfg := config.Default()

	kind, err := c.chooseBackend(cfg, &renderOpts{backend: "mmdc"})
	if err != nil || kind != backend.KindExternal {
		t.Errorf("chooseBackend(mmdc) = %q, %v", kind, err)
	}

	kind, err = c.chooseBackend(cfg, &renderOpts{})
	if err != nil || kind != "" {
		t.Errorf("chooseBackend() = %q, %v, want full chain", kind, err)
	}

	if _, err := c.chooseBackend(cfg, &renderOpts{backend: "gpu"}); !errs.Is(err, errs.ErrCodeInvalidInput) {
		t.Errorf("chooseBackend(gpu) error = %v, want INVALID_INPUT", err)
	}
}

func TestRenderRejectsPDFUpload(t *testing.T) {
	c := New(io.Discard, LogInfo)
	src := filepath.Join(t.TempDir(), "flow.mmd")
	if err := os.WriteFile(src, []byte("graph TD; A-->B"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := c.runRender(context.Background(), src, nil, &renderOpts{format: "pdf", upload: true})
	if !errs.Is(err, errs.ErrCodeInvalidFormat) {
		t.Errorf("runRender() error = %v, want INVALID_FORMAT", err)
	}
}

func TestRenderCommandInProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("renders with the embedded Graphviz runtime")
	}
	t.Setenv("RENDERMILL_CACHE", "none")

	dir := t.TempDir()
	src := filepath.Join(dir, "flow.mmd")
	out := filepath.Join(dir, "out", "flow.svg")
	if err := os.WriteFile(src, []byte("graph TD\n  A[Start] --> B[Done]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"render", src, "-o", out, "--backend", "inprocess", "--no-cache"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("render command failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("<svg")) {
		t.Errorf("output is not SVG: %.80s", data)
	}
}

func TestRenderCommandUploadsToFileStore(t *testing.T) {
	if testing.Short() {
		t.Skip("renders with the embedded Graphviz runtime")
	}
	artifacts := t.TempDir()
	t.Setenv("RENDERMILL_CACHE", "none")
	t.Setenv("RENDERMILL_STORE", "file")
	t.Setenv("RENDERMILL_ARTIFACT_DIR", artifacts)
	t.Setenv("RENDERMILL_PUBLIC_URL", "http://localhost:3000/")

	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetIn(strings.NewReader("graph LR\n  A --> B\n"))
	root.SetArgs([]string{"render", "--upload", "-f", "svg", "-b", "inprocess", "--folder", "docs"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("render --upload failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(artifacts, "docs", "*.svg"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one uploaded svg, got %v (%v)", matches, err)
	}
}
