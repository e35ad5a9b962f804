// Package pkg provides the core libraries for Rendermill, a service that turns
// Mermaid diagram source into hosted SVG or PNG images.
//
// # Architecture
//
// Every request, whether it arrives over HTTP or from the CLI, flows through
// the same pipeline:
//
//	Mermaid source
//	      ↓
//	  [sanitize] (strip script and markup)
//	      ↓
//	  [backend] selector (in-process → browser → external)
//	      ↓
//	  [pool] session (borrowed, released before upload)
//	      ↓
//	  [render] rasterizer (svg passthrough or png)
//	      ↓
//	  [store] upload (Cloudinary, GridFS or local files)
//	      ↓
//	  secure URL
//
// [pipeline] owns the state machine and the single fallback retry. It never
// returns both a URL and an error.
//
// # Quick Start
//
//	sel := backend.NewDefaultSelector(backend.Options{}, logger)
//	p, _ := pool.New(pool.Config{}, logger)
//	defer p.Close()
//	st, _ := store.New(ctx, store.Config{Kind: store.KindFile, Dir: "artifacts"})
//
//	runner, _ := pipeline.NewRunner(pipeline.Config{Selector: sel, Pool: p, Store: st})
//	res := runner.Execute(ctx, pipeline.Request{Source: "graph TD; A-->B"})
//	if res.Outcome.Failed() {
//	    log.Error("render failed", "kind", res.Outcome.Kind)
//	}
//
// # Main Packages
//
// ## Rendering
//
// [backend] - The three rendering backends behind one adapter interface and
// the selector that orders them. In-process rendering uses an embedded
// Graphviz runtime for flowcharts; the browser backend drives headless
// Chromium; the external backend shells out to the Mermaid CLI.
//
// [render] - Vector and raster types plus SVG to PNG conversion, natively or
// through librsvg.
//
// [sanitize] - Untrusted source cleanup before any backend sees it.
//
// ## Infrastructure
//
// [pool] - Bounded per-backend session pool with acquire timeouts and idle
// eviction. [session] is the pooled unit.
//
// [cache] - Artifact cache with null, file and Redis implementations.
//
// [store] - Artifact stores returning public URLs.
//
// [config] - TOML, .env and environment configuration.
//
// [observability] - Hook registry for pipeline, pool, cache, store and HTTP
// events.
//
// [errors] - Error codes shared by every package, with HTTP status mapping.
//
// ## Entry Points
//
// [server] - The HTTP API. The CLI lives in internal/cli.
//
// # Testing
//
//	go test ./...          # All tests
//	go test -short ./...   # Skip tests that start real backends
package pkg
