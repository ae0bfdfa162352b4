package transform

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/davidbyttow/govips/v2/vips"
	"golang.org/x/image/webp"

	"github.com/officialunofficial/zimgx/pkg/imageformat"
	"github.com/officialunofficial/zimgx/pkg/ipximage"
)

func init() {
	vips.Startup(&vips.Config{ConcurrencyLevel: 1})
}

func testPNG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestRunResizeContainWithExplicitFormat(t *testing.T) {
	p, err := Parse("w=50,h=50,fit=contain,f=jpeg")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := Run(testPNG(200, 100), p, "", AnimConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", res.ContentType)
	}
	if len(res.Data) == 0 {
		t.Error("Run produced empty output")
	}
	if res.Animated {
		t.Error("static source reported as animated")
	}
}

func TestRunNegotiatesFormatFromAccept(t *testing.T) {
	p, err := Parse("w=40,h=40")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := Run(testPNG(80, 80), p, "image/webp,image/jpeg;q=0.5", AnimConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ContentType != "image/webp" {
		t.Errorf("ContentType = %q, want image/webp", res.ContentType)
	}

	cfg, err := webp.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("independent webp decode: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 40 {
		t.Errorf("decoded webp size = %dx%d, want 40x40", cfg.Width, cfg.Height)
	}
}

func TestRunNoResizeDimensionsForNonDefaultFit(t *testing.T) {
	p, err := Parse("fit=fill")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = Run(testPNG(64, 64), p, "", AnimConfig{})
	if !errors.Is(err, ErrNoResizeDimensions) {
		t.Errorf("Run err = %v, want ErrNoResizeDimensions", err)
	}
}

func TestRunSkipsResizeWhenNoDimensionsAndFitContain(t *testing.T) {
	p, err := Parse("f=png")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := Run(testPNG(64, 64), p, "", AnimConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", res.ContentType)
	}
}

func TestRunAppliesRotateAndFlip(t *testing.T) {
	p, err := Parse("rotate=90,flip=h,f=png")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := Run(testPNG(40, 20), p, "", AnimConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Data) == 0 {
		t.Error("Run produced empty output")
	}
}

func TestRunEffectsPipeline(t *testing.T) {
	p, err := Parse("sharpen=1,blur=0.5,brightness=1.2,contrast=1.1,gamma=2.2,saturation=1.5,f=png")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := Run(testPNG(40, 40), p, "", AnimConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Data) == 0 {
		t.Error("Run produced empty output")
	}
}

func TestRunBackgroundFlattenOnAlpha(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 128})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)

	p, err := Parse("bg=FFFFFF,f=jpeg")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := Run(buf.Bytes(), p, "", AnimConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", res.ContentType)
	}
}

func TestGravityOffsetCentre(t *testing.T) {
	left, top := gravityOffset(GravityCenter, 100, 100, 50, 50)
	if left != 25 || top != 25 {
		t.Errorf("gravityOffset centre = (%d,%d), want (25,25)", left, top)
	}
}

func TestGravityOffsetCompassClampsNonNegative(t *testing.T) {
	left, top := gravityOffset(GravityNorthWest, 100, 100, 50, 50)
	if left != 0 || top != 0 {
		t.Errorf("gravityOffset nw = (%d,%d), want (0,0)", left, top)
	}

	left, top = gravityOffset(GravitySouthEast, 100, 100, 50, 50)
	if left != 50 || top != 50 {
		t.Errorf("gravityOffset se = (%d,%d), want (50,50)", left, top)
	}
}

func TestRotateAngleRejectsNonMultipleOf90(t *testing.T) {
	if _, err := rotateAngle(45); !errors.Is(err, ErrOperationFailed) {
		t.Errorf("rotateAngle(45) err = %v, want ErrOperationFailed", err)
	}
}

func TestClampDim(t *testing.T) {
	if v := clampDim(0); v != 1 {
		t.Errorf("clampDim(0) = %d, want 1", v)
	}
	if v := clampDim(99999); v != maxDimension {
		t.Errorf("clampDim(99999) = %d, want %d", v, maxDimension)
	}
	if v := clampDim(500); v != 500 {
		t.Errorf("clampDim(500) = %d, want 500", v)
	}
}

func TestFitToSize(t *testing.T) {
	cases := map[Fit]vips.Size{
		FitFill:    vips.SizeForce,
		FitOutside: vips.SizeUp,
		FitCover:   vips.SizeBoth,
		FitContain: vips.SizeDown,
		FitInside:  vips.SizeDown,
	}
	for fit, want := range cases {
		if got := fitToSize(fit); got != want {
			t.Errorf("fitToSize(%s) = %v, want %v", fit, got, want)
		}
	}
}

func TestGravityToInteresting(t *testing.T) {
	if g := gravityToInteresting(GravitySmart); g != vips.InterestingEntropy {
		t.Errorf("gravityToInteresting(smart) = %v, want Entropy", g)
	}
	if g := gravityToInteresting(GravityAttention); g != vips.InterestingAttention {
		t.Errorf("gravityToInteresting(attention) = %v, want Attention", g)
	}
	if g := gravityToInteresting(GravityCenter); g != vips.InterestingCentre {
		t.Errorf("gravityToInteresting(center) = %v, want Centre", g)
	}
}

func TestEncodeRejectsUnsupportedFormat(t *testing.T) {
	h, err := ipximage.Decode(testPNG(10, 10))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer h.Release()

	_, err = encode(h, imageformat.Auto, Default(), false)
	if !errors.Is(err, ErrOperationFailed) {
		t.Errorf("encode(auto) err = %v, want ErrOperationFailed", err)
	}
}
