// Package render holds the diagram artifact types and the Rasterizer.
//
// A backend produces a [Vector] (SVG markup plus its intrinsic size). When the
// caller asked for a raster format, [Rasterizer.ToRaster] converts it:
//
//	r := render.NewRasterizer(render.RasterOptions{Scale: 2})
//	out, err := r.ToRaster(ctx, vec, render.FormatPNG)
//
// Conversion prefers the external rsvg-convert tool (from librsvg) because it
// handles text and CSS far better, and falls back to an in-process rasterizer
// built on srwiley/oksvg when the tool is not installed. Asking for the
// vector's own format is a passthrough.
//
// [ToPNG] and [ToPDF] expose the rsvg-convert path directly for callers that
// need PDF output, which only the CLI does.
package render
