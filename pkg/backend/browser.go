package backend

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/render"
	"github.com/matzehuels/rendermill/pkg/sanitize"
	"github.com/matzehuels/rendermill/pkg/session"
)

const (
	// DefaultMermaidScript is the ES module the page imports Mermaid from.
	DefaultMermaidScript = "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.esm.min.mjs"

	// DefaultBrowserTimeout bounds a single in-page render.
	DefaultBrowserTimeout = 15 * time.Second
)

// BrowserOptions configures the browser adapter.
type BrowserOptions struct {
	Path          string // explicit Chromium binary; skips discovery
	ScriptURL     string
	Theme         string
	RenderTimeout time.Duration
	NoSandbox     bool
	Env           Env
}

// Browser renders diagrams with the Mermaid library inside a headless
// Chromium driven over the DevTools protocol.
type Browser struct {
	opts   BrowserOptions
	logger *log.Logger

	probeOnce sync.Once
	bin       string
	available bool
}

// NewBrowser creates the browser adapter.
func NewBrowser(opts BrowserOptions, logger *log.Logger) *Browser {
	if opts.ScriptURL == "" {
		opts.ScriptURL = DefaultMermaidScript
	}
	if opts.Theme == "" {
		opts.Theme = "default"
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = DefaultBrowserTimeout
	}
	if opts.Env == nil {
		opts.Env = OSEnv
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Browser{opts: opts, logger: logger}
}

func (a *Browser) Kind() Kind { return KindBrowser }

// Available reports whether a Chromium binary can be found. On serverless
// platforms the browser is only used when a path is configured explicitly.
func (a *Browser) Available() bool {
	a.probeOnce.Do(func() {
		if platform, ok := DetectServerless(a.opts.Env); ok && a.opts.Path == "" {
			a.logger.Debug("browser backend disabled on serverless platform", "platform", platform)
			return
		}
		bin, ok := FindBrowser(a.opts.Env, a.opts.Path)
		if !ok && a.opts.Path == "" && a.opts.Env == OSEnv {
			bin, ok = launcher.LookPath()
		}
		a.bin, a.available = bin, ok
		if ok {
			a.logger.Debug("browser found", "path", bin)
		}
	})
	return a.available
}

type browserHandle struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (h *browserHandle) Close() error {
	err := h.browser.Close()
	h.launcher.Kill()
	h.launcher.Cleanup()
	return err
}

// Open launches one headless browser process.
func (a *Browser) Open(ctx context.Context) (session.Handle, error) {
	if !a.Available() {
		return nil, errs.New(errs.ErrCodeNoBackend, "no browser binary found")
	}

	l := launcher.New().Bin(a.bin).Headless(true).Set("disable-gpu")
	if a.opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	h := &browserHandle{browser: b, launcher: l}
	if err := ctx.Err(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Render loads the diagram into a fresh page and captures the SVG Mermaid
// produces.
func (a *Browser) Render(ctx context.Context, h session.Handle, src sanitize.Source) (render.Vector, error) {
	bh, ok := h.(*browserHandle)
	if !ok {
		return render.Vector{}, renderFailure(KindBrowser, nil, "foreign session handle %T", h)
	}

	doc, err := a.document(src)
	if err != nil {
		return render.Vector{}, renderFailure(KindBrowser, err, "build page")
	}

	page, err := bh.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return render.Vector{}, renderFailure(KindBrowser, err, "open page")
	}
	defer page.Close()

	p := page.Context(ctx).Timeout(a.opts.RenderTimeout)
	if err := p.SetDocumentContent(doc); err != nil {
		return render.Vector{}, renderFailure(KindBrowser, err, "load page")
	}

	body, err := p.Element("body[data-status]")
	if err != nil {
		return render.Vector{}, renderFailure(KindBrowser, err, "wait for mermaid")
	}
	status, err := body.Attribute("data-status")
	if err != nil || status == nil || *status != "ok" {
		msg, _ := body.Attribute("data-error")
		return render.Vector{}, renderFailure(KindBrowser, err, "mermaid rejected diagram: %s", deref(msg))
	}

	el, err := p.Element("pre.mermaid svg")
	if err != nil {
		return render.Vector{}, renderFailure(KindBrowser, err, "locate svg")
	}
	svg, err := el.HTML()
	if err != nil {
		return render.Vector{}, renderFailure(KindBrowser, err, "read svg")
	}
	return render.NewVector([]byte(svg)), nil
}

func deref(s *string) string {
	if s == nil {
		return "unknown error"
	}
	return *s
}

// pageTemplate escapes the diagram source into the pre element, so the
// source can never become markup of the host page.
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;background:transparent">
<pre class="mermaid">{{.Source}}</pre>
<script type="module">
import mermaid from {{.ScriptURL}};
mermaid.initialize({ startOnLoad: false, securityLevel: "strict", theme: {{.Theme}} });
try {
  await mermaid.run({ querySelector: "pre.mermaid" });
  document.body.setAttribute("data-status", "ok");
} catch (e) {
  document.body.setAttribute("data-error", String((e && e.message) || e));
  document.body.setAttribute("data-status", "error");
}
</script>
</body>
</html>
`))

func (a *Browser) document(src sanitize.Source) (string, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Source    string
		ScriptURL string
		Theme     string
	}{src.String(), a.opts.ScriptURL, a.opts.Theme})
	return buf.String(), err
}
