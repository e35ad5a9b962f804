package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	errs "github.com/matzehuels/rendermill/pkg/errors"
)

// Engine selects the SVG to PNG converter.
type Engine string

const (
	EngineAuto   Engine = "auto"   // rsvg-convert when installed, else native
	EngineRSVG   Engine = "rsvg"   // rsvg-convert only
	EngineNative Engine = "native" // in-process oksvg only
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultScale renders PNGs at twice the SVG's intrinsic size.
	DefaultScale = 2.0

	// DefaultMaxDimension caps either side of a PNG in pixels.
	DefaultMaxDimension = 8192
)

// RasterOptions configures a Rasterizer.
type RasterOptions struct {
	Scale        float64
	Background   string // "" or "transparent" keeps alpha; otherwise a color like "#ffffff"
	MaxDimension int
	Engine       Engine
}

// Rasterizer converts vector output to the requested artifact format.
// It is stateless apart from its options and safe for concurrent use.
type Rasterizer struct {
	opts       RasterOptions
	background color.Color
	rsvgFound  func() bool
}

// NewRasterizer creates a Rasterizer, filling in defaults.
func NewRasterizer(opts RasterOptions) *Rasterizer {
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.Engine == "" {
		opts.Engine = EngineAuto
	}
	bg, _ := parseColor(opts.Background)
	return &Rasterizer{opts: opts, background: bg, rsvgFound: RSVGAvailable}
}

// Scale returns the effective scale factor.
func (r *Rasterizer) Scale() float64 { return r.opts.Scale }

// ToRaster converts v to target. Requests for the vector's own format pass
// the bytes through untouched. Failures carry CONVERSION_FAILURE.
func (r *Rasterizer) ToRaster(ctx context.Context, v Vector, target Format) (Raster, error) {
	if target == "" {
		target = DefaultFormat
	}
	if target == v.Format || (v.Format == "" && target == FormatSVG) {
		return Raster{Data: v.Data, Format: target}, nil
	}
	if target != FormatPNG {
		return Raster{}, errs.New(errs.ErrCodeConversionFailure, "cannot convert %s to %s", v.Format, target)
	}
	if len(v.Data) == 0 {
		return Raster{}, errs.New(errs.ErrCodeConversionFailure, "empty vector input")
	}

	var (
		data []byte
		err  error
	)
	switch r.engine() {
	case EngineRSVG:
		data, err = ToPNG(ctx, v.Data, r.opts.Scale, r.rsvgBackground())
		if err == nil {
			data, err = r.clamp(data)
		}
	default:
		data, err = r.native(v)
	}
	if err != nil {
		return Raster{}, errs.Wrap(errs.ErrCodeConversionFailure, err, "svg to png")
	}
	return Raster{Data: data, Format: FormatPNG}, nil
}

func (r *Rasterizer) engine() Engine {
	switch r.opts.Engine {
	case EngineRSVG, EngineNative:
		return r.opts.Engine
	}
	if r.rsvgFound() {
		return EngineRSVG
	}
	return EngineNative
}

func (r *Rasterizer) rsvgBackground() string {
	if r.background == nil {
		return ""
	}
	return r.opts.Background
}

// native rasterizes with oksvg. Text elements are not drawn by oksvg, so
// this path is a fallback for hosts without librsvg.
func (r *Rasterizer) native(v Vector) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(v.Data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		vw, vh = v.Width, v.Height
	}
	if vw <= 0 || vh <= 0 {
		return nil, fmt.Errorf("svg has no usable size")
	}

	scale := r.fitScale(vw, vh)
	w := int(math.Ceil(vw * scale))
	h := int(math.Ceil(vh * scale))

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if r.background != nil {
		draw.Draw(img, img.Bounds(), image.NewUniform(r.background), image.Point{}, draw.Src)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fitScale lowers the configured scale so neither side exceeds MaxDimension.
func (r *Rasterizer) fitScale(w, h float64) float64 {
	scale := r.opts.Scale
	limit := float64(r.opts.MaxDimension)
	if w*scale > limit {
		scale = limit / w
	}
	if h*scale > limit {
		scale = limit / h
	}
	return scale
}

// clamp downsamples an rsvg-produced PNG that exceeds MaxDimension.
func (r *Rasterizer) clamp(data []byte) ([]byte, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read png header: %w", err)
	}
	limit := r.opts.MaxDimension
	if cfg.Width <= limit && cfg.Height <= limit {
		return data, nil
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	f := math.Min(float64(limit)/float64(cfg.Width), float64(limit)/float64(cfg.Height))
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(cfg.Width)*f), int(float64(cfg.Height)*f)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// parseColor accepts "", "transparent", "white", "black" and #rgb/#rrggbb.
// Unknown values are treated as transparent.
func parseColor(s string) (color.Color, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "transparent", "none":
		return nil, true
	case "white":
		return color.White, true
	case "black":
		return color.Black, true
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, false
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, false
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, true
}
