package render

import (
	"regexp"
	"strconv"
	"strings"

	errs "github.com/matzehuels/rendermill/pkg/errors"
)

// Format is an artifact output format.
type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
)

// DefaultFormat is used when a request names no format.
const DefaultFormat = FormatPNG

// Formats lists the supported output formats.
var Formats = []Format{FormatSVG, FormatPNG}

// ParseFormat parses a format name case-insensitively. The empty string
// yields DefaultFormat.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultFormat, nil
	case "svg":
		return FormatSVG, nil
	case "png":
		return FormatPNG, nil
	}
	return "", errs.New(errs.ErrCodeInvalidFormat, "unsupported format %q (want svg or png)", s)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// Vector is the SVG output of a backend.
type Vector struct {
	Data   []byte
	Format Format
	Width  float64
	Height float64
}

// NewVector wraps SVG markup and reads its intrinsic size.
func NewVector(svg []byte) Vector {
	w, h := Dimensions(svg)
	return Vector{Data: svg, Format: FormatSVG, Width: w, Height: h}
}

// Raster is the final artifact in the requested format. For svg requests it
// carries the vector bytes unchanged.
type Raster struct {
	Data   []byte
	Format Format
}

var (
	svgTagRe  = regexp.MustCompile(`(?s)<svg\b[^>]*>`)
	widthRe   = regexp.MustCompile(`\swidth="([0-9.]+)(?:px|pt)?"`)
	heightRe  = regexp.MustCompile(`\sheight="([0-9.]+)(?:px|pt)?"`)
	viewBoxRe = regexp.MustCompile(`viewBox="(-?[0-9.]+)[\s,]+(-?[0-9.]+)[\s,]+([0-9.]+)[\s,]+([0-9.]+)"`)
)

// Dimensions returns the width and height declared on the root svg element,
// falling back to the viewBox. Zero means unknown.
func Dimensions(svg []byte) (w, h float64) {
	tag := svgTagRe.Find(svg)
	if tag == nil {
		return 0, 0
	}
	if m := widthRe.FindSubmatch(tag); m != nil {
		w, _ = strconv.ParseFloat(string(m[1]), 64)
	}
	if m := heightRe.FindSubmatch(tag); m != nil {
		h, _ = strconv.ParseFloat(string(m[1]), 64)
	}
	if w > 0 && h > 0 {
		return w, h
	}
	if m := viewBoxRe.FindSubmatch(tag); m != nil {
		w, _ = strconv.ParseFloat(string(m[3]), 64)
		h, _ = strconv.ParseFloat(string(m[4]), 64)
	}
	return w, h
}
