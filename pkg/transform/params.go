// Package transform parses and validates the URL transform descriptor and
// runs the fixed-order image transform pipeline described by the core
// specification.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/officialunofficial/zimgx/pkg/imageformat"
)

// Fit is the resize-fit mode.
type Fit string

const (
	FitContain Fit = "contain"
	FitCover   Fit = "cover"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
	FitPad     Fit = "pad"
)

// Gravity is the crop-gravity hint used with FitCover.
type Gravity string

const (
	GravityCenter    Gravity = "center"
	GravityNorth     Gravity = "n"
	GravitySouth     Gravity = "s"
	GravityEast      Gravity = "e"
	GravityWest      Gravity = "w"
	GravityNorthEast Gravity = "ne"
	GravityNorthWest Gravity = "nw"
	GravitySouthEast Gravity = "se"
	GravitySouthWest Gravity = "sw"
	GravitySmart     Gravity = "smart"
	GravityAttention Gravity = "attention"
)

// Flip direction.
type Flip string

const (
	FlipNone Flip = ""
	FlipH    Flip = "h"
	FlipV    Flip = "v"
	FlipHV   Flip = "hv"
)

// MetadataPolicy controls what embedded metadata survives encoding.
type MetadataPolicy string

const (
	MetadataStrip     MetadataPolicy = "strip"
	MetadataKeep      MetadataPolicy = "keep"
	MetadataCopyright MetadataPolicy = "copyright"
)

// AnimMode controls whether an animated source is encoded as animated.
type AnimMode string

const (
	AnimAuto   AnimMode = "auto"
	AnimStatic AnimMode = "static"
	AnimAnim   AnimMode = "animate"
)

const (
	maxDimension   = 8192
	defaultQuality = 80
)

// Params is the parsed, validated, canonicalised form of a transform
// descriptor. It is immutable after Validate succeeds.
type Params struct {
	Width, Height int // 0 = unset

	Quality int
	Format  imageformat.Format
	Fit     Fit
	Gravity Gravity

	Sharpen    float64 // 0 = unset
	Blur       float64 // 0 = unset
	DPR        float64
	Rotate     int
	Flip       Flip
	Brightness float64 // -1 sentinel = unset (valid range is 0..2)
	Contrast   float64
	Saturation float64
	Gamma      float64 // 0 = unset

	HasBackground bool
	Background    [3]uint8

	Metadata MetadataPolicy
	Trim     int // 0 = unset
	Anim     AnimMode
	Frame    int  // -1 = unset
	HasFrame bool
}

// Default returns a Params populated with every field's documented
// default value.
func Default() Params {
	return Params{
		Quality:    defaultQuality,
		Format:     imageformat.Auto,
		Fit:        FitContain,
		Gravity:    GravityCenter,
		DPR:        1,
		Brightness: -1,
		Contrast:   -1,
		Saturation: -1,
		Metadata:   MetadataStrip,
		Anim:       AnimAuto,
		Frame:      -1,
	}
}

var (
	ErrEmptyValue       = errors.New("transform: empty value")
	ErrInvalidParameter = errors.New("transform: unknown parameter")
)

// InvalidFieldError reports that a field parsed but failed range
// validation, or that its literal value could not be parsed as its type.
type InvalidFieldError struct {
	Field string
	Value string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("transform: invalid %s: %q", e.Field, e.Value)
}

// Parse splits a transform descriptor ("w=800,h=600,fit=cover") into a
// Params value with defaults applied to every field that was not present.
// Unknown keys fail with ErrInvalidParameter; a key with no value fails
// with ErrEmptyValue. Enums are matched by explicit string equality, never
// by position or ordinal, so reordering a descriptor's pairs never changes
// its meaning.
func Parse(s string) (Params, error) {
	p := Default()
	if strings.TrimSpace(s) == "" {
		return p, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, found := strings.Cut(pair, "=")
		if !found || value == "" {
			return Params{}, ErrEmptyValue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if err := p.set(key, value); err != nil {
			return Params{}, err
		}
	}

	return p, nil
}

func (p *Params) set(key, value string) error {
	switch key {
	case "w", "width":
		v, err := strconv.Atoi(value)
		if err != nil {
			return &InvalidFieldError{Field: "width", Value: value}
		}
		p.Width = v
	case "h", "height":
		v, err := strconv.Atoi(value)
		if err != nil {
			return &InvalidFieldError{Field: "height", Value: value}
		}
		p.Height = v
	case "q", "quality":
		v, err := strconv.Atoi(value)
		if err != nil {
			return &InvalidFieldError{Field: "quality", Value: value}
		}
		p.Quality = v
	case "f", "fmt", "format":
		f, known := imageformat.Parse(value)
		if !known && strings.ToLower(value) != "auto" {
			return &InvalidFieldError{Field: "format", Value: value}
		}
		if f == "" {
			f = imageformat.Auto
		}
		p.Format = f
	case "fit":
		fit := Fit(strings.ToLower(value))
		switch fit {
		case FitContain, FitCover, FitFill, FitInside, FitOutside, FitPad:
			p.Fit = fit
		default:
			return &InvalidFieldError{Field: "fit", Value: value}
		}
	case "g", "gravity":
		switch strings.ToLower(value) {
		case "center", "centre":
			p.Gravity = GravityCenter
		case "n":
			p.Gravity = GravityNorth
		case "s":
			p.Gravity = GravitySouth
		case "e":
			p.Gravity = GravityEast
		case "w":
			p.Gravity = GravityWest
		case "ne":
			p.Gravity = GravityNorthEast
		case "nw":
			p.Gravity = GravityNorthWest
		case "se":
			p.Gravity = GravitySouthEast
		case "sw":
			p.Gravity = GravitySouthWest
		case "smart":
			p.Gravity = GravitySmart
		case "att", "attention":
			p.Gravity = GravityAttention
		default:
			return &InvalidFieldError{Field: "gravity", Value: value}
		}
	case "sharpen":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &InvalidFieldError{Field: "sharpen", Value: value}
		}
		p.Sharpen = v
	case "blur":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &InvalidFieldError{Field: "blur", Value: value}
		}
		p.Blur = v
	case "dpr":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &InvalidFieldError{Field: "dpr", Value: value}
		}
		p.DPR = v
	case "rotate":
		v, err := strconv.Atoi(value)
		if err != nil {
			return &InvalidFieldError{Field: "rotate", Value: value}
		}
		p.Rotate = v
	case "flip":
		switch strings.ToLower(value) {
		case "h":
			p.Flip = FlipH
		case "v":
			p.Flip = FlipV
		case "hv", "vh":
			p.Flip = FlipHV
		default:
			return &InvalidFieldError{Field: "flip", Value: value}
		}
	case "brightness":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &InvalidFieldError{Field: "brightness", Value: value}
		}
		p.Brightness = v
	case "contrast":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &InvalidFieldError{Field: "contrast", Value: value}
		}
		p.Contrast = v
	case "saturation":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &InvalidFieldError{Field: "saturation", Value: value}
		}
		p.Saturation = v
	case "gamma":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &InvalidFieldError{Field: "gamma", Value: value}
		}
		p.Gamma = v
	case "bg", "background":
		rgb, err := parseHexRGB(value)
		if err != nil {
			return &InvalidFieldError{Field: "background", Value: value}
		}
		p.HasBackground = true
		p.Background = rgb
	case "metadata":
		switch strings.ToLower(value) {
		case "strip", "none":
			p.Metadata = MetadataStrip
		case "keep", "all":
			p.Metadata = MetadataKeep
		case "copyright":
			p.Metadata = MetadataCopyright
		default:
			return &InvalidFieldError{Field: "metadata", Value: value}
		}
	case "trim":
		v, err := strconv.Atoi(value)
		if err != nil {
			return &InvalidFieldError{Field: "trim", Value: value}
		}
		p.Trim = v
	case "anim":
		switch strings.ToLower(value) {
		case "auto", "true":
			p.Anim = AnimAuto
		case "static", "false":
			p.Anim = AnimStatic
		case "animate":
			p.Anim = AnimAnim
		default:
			return &InvalidFieldError{Field: "anim", Value: value}
		}
	case "frame":
		v, err := strconv.Atoi(value)
		if err != nil {
			return &InvalidFieldError{Field: "frame", Value: value}
		}
		p.Frame = v
		p.HasFrame = true
	default:
		return ErrInvalidParameter
	}
	return nil
}

func parseHexRGB(s string) ([3]uint8, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return [3]uint8{}, fmt.Errorf("want 6 hex digits")
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return [3]uint8{}, err
	}
	return [3]uint8{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// Validate enforces the documented range for every field that was set.
// Returns an *InvalidFieldError naming the first field out of range.
func (p Params) Validate() error {
	if p.Width != 0 && (p.Width < 1 || p.Width > maxDimension) {
		return &InvalidFieldError{Field: "width", Value: strconv.Itoa(p.Width)}
	}
	if p.Height != 0 && (p.Height < 1 || p.Height > maxDimension) {
		return &InvalidFieldError{Field: "height", Value: strconv.Itoa(p.Height)}
	}
	if p.Quality < 1 || p.Quality > 100 {
		return &InvalidFieldError{Field: "quality", Value: strconv.Itoa(p.Quality)}
	}
	if p.Sharpen != 0 && (p.Sharpen < 0 || p.Sharpen > 10) {
		return &InvalidFieldError{Field: "sharpen", Value: fmt.Sprint(p.Sharpen)}
	}
	if p.Blur != 0 && (p.Blur < 0.1 || p.Blur > 250) {
		return &InvalidFieldError{Field: "blur", Value: fmt.Sprint(p.Blur)}
	}
	if p.DPR < 1 || p.DPR > 5 {
		return &InvalidFieldError{Field: "dpr", Value: fmt.Sprint(p.DPR)}
	}
	switch p.Rotate {
	case 0, 90, 180, 270:
	default:
		return &InvalidFieldError{Field: "rotate", Value: strconv.Itoa(p.Rotate)}
	}
	if p.Brightness != -1 && (p.Brightness < 0 || p.Brightness > 2) {
		return &InvalidFieldError{Field: "brightness", Value: fmt.Sprint(p.Brightness)}
	}
	if p.Contrast != -1 && (p.Contrast < 0 || p.Contrast > 2) {
		return &InvalidFieldError{Field: "contrast", Value: fmt.Sprint(p.Contrast)}
	}
	if p.Saturation != -1 && (p.Saturation < 0 || p.Saturation > 2) {
		return &InvalidFieldError{Field: "saturation", Value: fmt.Sprint(p.Saturation)}
	}
	if p.Gamma != 0 && (p.Gamma < 0.1 || p.Gamma > 10) {
		return &InvalidFieldError{Field: "gamma", Value: fmt.Sprint(p.Gamma)}
	}
	if p.Trim != 0 && (p.Trim < 1 || p.Trim > 100) {
		return &InvalidFieldError{Field: "trim", Value: strconv.Itoa(p.Trim)}
	}
	if p.HasFrame && (p.Frame < 0 || p.Frame > 999) {
		return &InvalidFieldError{Field: "frame", Value: strconv.Itoa(p.Frame)}
	}
	return nil
}

// EffectiveSize returns the DPR-scaled, 8192-clamped target dimensions.
// A zero return means that axis was not requested.
func (p Params) EffectiveSize() (w, h int) {
	scale := func(v int) int {
		if v == 0 {
			return 0
		}
		scaled := int(math.Ceil(float64(v) * p.DPR))
		if scaled > maxDimension {
			scaled = maxDimension
		}
		return scaled
	}
	return scale(p.Width), scale(p.Height)
}

// CanonicalKey renders the params in a fixed field order, omitting any
// field equal to its default, for use as (part of) a cache key. Two
// Params produce the same key iff they are cache-equivalent, regardless
// of the order their source descriptor listed fields in.
func (p Params) CanonicalKey() string {
	var b strings.Builder
	write := func(k, v string) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}

	if p.Width != 0 {
		write("w", strconv.Itoa(p.Width))
	}
	if p.Height != 0 {
		write("h", strconv.Itoa(p.Height))
	}
	if p.Quality != defaultQuality {
		write("q", strconv.Itoa(p.Quality))
	}
	if p.Format != imageformat.Auto && p.Format != "" {
		write("f", string(p.Format))
	}
	if p.Fit != FitContain {
		write("fit", string(p.Fit))
	}
	if p.Gravity != GravityCenter {
		write("g", string(p.Gravity))
	}
	if p.Sharpen != 0 {
		write("sharpen", strconv.FormatFloat(p.Sharpen, 'f', 2, 64))
	}
	if p.Blur != 0 {
		write("blur", strconv.FormatFloat(p.Blur, 'f', 2, 64))
	}
	if p.DPR != 1 {
		write("dpr", strconv.FormatFloat(p.DPR, 'f', 1, 64))
	}
	if p.Rotate != 0 {
		write("rotate", strconv.Itoa(p.Rotate))
	}
	if p.Flip != FlipNone {
		write("flip", string(p.Flip))
	}
	if p.Brightness != -1 {
		write("brightness", strconv.FormatFloat(p.Brightness, 'f', 2, 64))
	}
	if p.Contrast != -1 {
		write("contrast", strconv.FormatFloat(p.Contrast, 'f', 2, 64))
	}
	if p.Saturation != -1 {
		write("saturation", strconv.FormatFloat(p.Saturation, 'f', 2, 64))
	}
	if p.Gamma != 0 {
		write("gamma", strconv.FormatFloat(p.Gamma, 'f', 2, 64))
	}
	if p.HasBackground {
		write("bg", fmt.Sprintf("%02X%02X%02X", p.Background[0], p.Background[1], p.Background[2]))
	}
	if p.Metadata != MetadataStrip {
		write("metadata", string(p.Metadata))
	}
	if p.Trim != 0 {
		write("trim", strconv.Itoa(p.Trim))
	}
	if p.Anim != AnimAuto {
		write("anim", string(p.Anim))
	}
	if p.HasFrame {
		write("frame", strconv.Itoa(p.Frame))
	}

	return b.String()
}
