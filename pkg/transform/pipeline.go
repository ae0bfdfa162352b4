package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/officialunofficial/zimgx/pkg/imageformat"
	"github.com/officialunofficial/zimgx/pkg/ipximage"
	"github.com/officialunofficial/zimgx/pkg/negotiate"
)

// ErrNoResizeDimensions is a pipeline-internal logic error: a fit mode
// that requires at least one axis was requested with neither w nor h set.
var ErrNoResizeDimensions = errors.New("transform: fit mode requires a width or height")

// ErrOperationFailed wraps a codec (decode/encode) failure from the
// underlying image library. The dispatcher treats this as recoverable:
// it serves the original fetched bytes instead of failing the request.
var ErrOperationFailed = errors.New("transform: image operation failed")

const defaultMaxAnimatedPixels = 50_000_000

// AnimConfig bounds how much animation work the pipeline will do before
// degrading to a single frame.
type AnimConfig struct {
	MaxFrames         int
	MaxAnimatedPixels int64
}

func (c AnimConfig) maxFrames() int {
	if c.MaxFrames <= 0 {
		return 1 << 30
	}
	return c.MaxFrames
}

func (c AnimConfig) maxAnimatedPixels() int64 {
	if c.MaxAnimatedPixels <= 0 {
		return defaultMaxAnimatedPixels
	}
	return c.MaxAnimatedPixels
}

// Result is the pipeline's successful output.
type Result struct {
	Data        []byte
	ContentType string
	Animated    bool
}

// Run executes the full probe -> decide -> reload -> extract -> trim ->
// rotate/flip -> resize -> effects -> background -> encode pipeline
// against source bytes, honouring accept for content negotiation.
func Run(source []byte, p Params, accept string, cfg AnimConfig) (Result, error) {
	// Stage 1: probe.
	current, err := ipximage.Decode(source)
	if err != nil {
		return Result{}, fmt.Errorf("%w: probe decode: %v", ErrOperationFailed, err)
	}
	defer func() { current.Release() }()

	nPages := current.NPages()
	pageHeight := current.PageHeight()
	frameWidth := current.Width()
	isAnimated := nPages > 1

	// Stage 2: budget.
	var overBudget bool
	if isAnimated {
		totalPixels := int64(frameWidth) * int64(pageHeight) * int64(nPages)
		overBudget = totalPixels > cfg.maxAnimatedPixels()
	}
	effectivePages := nPages
	if isAnimated && !overBudget {
		if n := cfg.maxFrames(); n < effectivePages {
			effectivePages = n
		}
	}

	// Stage 3: decide.
	animatedFormat := imageformat.Format("")
	if isAnimated && !overBudget && p.Anim != AnimStatic && !p.HasFrame {
		animatedFormat = negotiate.AnimatedFormat(accept, p.Format)
	}
	animatedOutput := animatedFormat != ""

	// Stage 4: reload.
	if animatedOutput {
		current.Release()
		if effectivePages < nPages {
			current, err = ipximage.DecodeN(source, effectivePages)
		} else {
			current, err = ipximage.DecodeAll(source)
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: reload: %v", ErrOperationFailed, err)
		}
		// A partial load still reports the file's total n-pages; record the
		// number of frames actually stacked.
		if effectivePages < nPages {
			if err := current.SetNPages(effectivePages); err != nil {
				return Result{}, fmt.Errorf("%w: set n-pages: %v", ErrOperationFailed, err)
			}
		}
	}

	// Stage 5: extract frame.
	if p.HasFrame && isAnimated {
		if current.Height() < nPages*pageHeight {
			current.Release()
			current, err = ipximage.DecodeAll(source)
			if err != nil {
				return Result{}, fmt.Errorf("%w: reload for frame extraction: %v", ErrOperationFailed, err)
			}
		}
		frame := p.Frame
		if frame >= nPages {
			frame = nPages - 1
		}
		next, err := current.Crop(0, frame*pageHeight, frameWidth, pageHeight)
		if err != nil {
			return Result{}, fmt.Errorf("%w: extract frame: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
		animatedOutput = false
	}

	// Stage 6: trim (static only).
	if !animatedOutput && p.Trim != 0 {
		bbox, err := current.FindTrim(float64(p.Trim))
		if err != nil {
			return Result{}, fmt.Errorf("%w: find trim: %v", ErrOperationFailed, err)
		}
		if bbox.Width > 0 && bbox.Height > 0 {
			next, err := current.Crop(bbox.Left, bbox.Top, bbox.Width, bbox.Height)
			if err != nil {
				return Result{}, fmt.Errorf("%w: trim crop: %v", ErrOperationFailed, err)
			}
			current.Release()
			current = next
		}
	}

	// Stage 7: rotate / flip.
	if p.Rotate != 0 {
		angle, err := rotateAngle(p.Rotate)
		if err != nil {
			return Result{}, err
		}
		next, err := current.Rotate(angle)
		if err != nil {
			return Result{}, fmt.Errorf("%w: rotate: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
	}
	if p.Flip != FlipNone {
		current, err = applyFlip(current, p.Flip)
		if err != nil {
			return Result{}, err
		}
	}

	// Stage 8: resize.
	current, animatedOutput, err = resize(current, p, animatedOutput)
	if err != nil {
		return Result{}, err
	}

	// Stage 9: effects.
	current, err = applyEffects(current, p)
	if err != nil {
		return Result{}, err
	}

	// Stage 10: background.
	if p.HasBackground && p.Fit != FitPad && current.HasAlpha() {
		next, err := current.Flatten(p.Background[0], p.Background[1], p.Background[2])
		if err != nil {
			return Result{}, fmt.Errorf("%w: flatten background: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
	}

	// Stage 11: encode.
	format := animatedFormat
	if !animatedOutput {
		format = negotiate.Format(accept, current.HasAlpha(), p.Format)
	}
	data, err := encode(current, format, p, animatedOutput)
	if err != nil {
		return Result{}, err
	}

	return Result{Data: data, ContentType: format.ContentType(), Animated: animatedOutput}, nil
}

func rotateAngle(degrees int) (vips.Angle, error) {
	switch degrees {
	case 0:
		return vips.Angle0, nil
	case 90:
		return vips.Angle90, nil
	case 180:
		return vips.Angle180, nil
	case 270:
		return vips.Angle270, nil
	default:
		return 0, fmt.Errorf("%w: rotate: invalid angle %d", ErrOperationFailed, degrees)
	}
}

func applyFlip(current *ipximage.Handle, f Flip) (*ipximage.Handle, error) {
	doFlip := func(h *ipximage.Handle, dir vips.Direction) (*ipximage.Handle, error) {
		next, err := h.Flip(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: flip: %v", ErrOperationFailed, err)
		}
		h.Release()
		return next, nil
	}

	var err error
	switch f {
	case FlipH:
		current, err = doFlip(current, vips.DirectionHorizontal)
	case FlipV:
		current, err = doFlip(current, vips.DirectionVertical)
	case FlipHV:
		current, err = doFlip(current, vips.DirectionHorizontal)
		if err == nil {
			current, err = doFlip(current, vips.DirectionVertical)
		}
	}
	return current, err
}

func gravityOffset(g Gravity, srcW, srcH, dstW, dstH int) (left, top int) {
	left = (srcW - dstW) / 2
	top = (srcH - dstH) / 2

	switch g {
	case GravityNorth:
		top = 0
	case GravitySouth:
		top = srcH - dstH
	case GravityWest:
		left = 0
	case GravityEast:
		left = srcW - dstW
	case GravityNorthWest:
		left, top = 0, 0
	case GravityNorthEast:
		left, top = srcW-dstW, 0
	case GravitySouthWest:
		left, top = 0, srcH-dstH
	case GravitySouthEast:
		left, top = srcW-dstW, srcH-dstH
	}
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	return left, top
}

// resize runs stage 8, including the animated-cover exception. Returns
// the (possibly unchanged) animatedOutput flag since the frame-extraction
// exception never triggers here but a future caller-visible degrade could.
func resize(current *ipximage.Handle, p Params, animatedOutput bool) (*ipximage.Handle, bool, error) {
	effW, effH := p.EffectiveSize()
	if effW == 0 && effH == 0 {
		if p.Fit != FitContain {
			return current, animatedOutput, ErrNoResizeDimensions
		}
		return current, animatedOutput, nil
	}

	srcW, srcH := current.Width(), current.Height()
	refHeight := srcH
	if animatedOutput {
		refHeight = current.PageHeight()
	}

	if effW == 0 {
		effW = clampDim(int(math.Round(float64(effH) * float64(srcW) / float64(refHeight))))
	}
	if effH == 0 {
		effH = clampDim(int(math.Round(float64(effW) * float64(refHeight) / float64(srcW))))
	}

	effectiveFit := p.Fit
	if effectiveFit == FitPad {
		effectiveFit = FitContain
	}

	if animatedOutput && effectiveFit == FitCover && p.Width != 0 && p.Height != 0 {
		return resizeAnimatedCover(current, p, effW, effH)
	}

	cropMode := vips.InterestingNone
	if effectiveFit == FitCover {
		cropMode = gravityToInteresting(p.Gravity)
	}
	sizeMode := fitToSize(effectiveFit)

	next, err := current.Thumbnail(effW, effH, cropMode, sizeMode)
	if err != nil {
		return current, animatedOutput, fmt.Errorf("%w: resize: %v", ErrOperationFailed, err)
	}
	current.Release()
	current = next

	if animatedOutput {
		pages := current.NPages()
		if pages < 1 {
			pages = 1
		}
		if err := current.SetPageHeight(current.Height() / pages); err != nil {
			return current, animatedOutput, fmt.Errorf("%w: set page height: %v", ErrOperationFailed, err)
		}
	}

	if p.Fit == FitPad && !animatedOutput {
		next, err := padToCanvas(current, p, effW, effH)
		if err != nil {
			return current, animatedOutput, err
		}
		current.Release()
		current = next
	}

	return current, animatedOutput, nil
}

func padToCanvas(current *ipximage.Handle, p Params, effW, effH int) (*ipximage.Handle, error) {
	bg := [3]uint8{255, 255, 255}
	if p.HasBackground {
		bg = p.Background
	}
	x := (effW - current.Width()) / 2
	y := (effH - current.Height()) / 2
	next, err := current.Embed(x, y, effW, effH, bg[0], bg[1], bg[2])
	if err != nil {
		return nil, fmt.Errorf("%w: pad embed: %v", ErrOperationFailed, err)
	}
	return next, nil
}

// resizeAnimatedCover implements the animated-cover two-step resize: a
// single-call crop-during-resize would corrupt frame boundaries because
// it operates over the whole concatenated stack.
func resizeAnimatedCover(current *ipximage.Handle, p Params, effW, effH int) (*ipximage.Handle, bool, error) {
	srcW := current.Width()
	pageH := current.PageHeight()
	pages := current.NPages()

	scale := math.Max(float64(effW)/float64(srcW), float64(effH)/float64(pageH))

	scaled, err := current.ResizeScale(scale, vips.KernelLanczos3)
	if err != nil {
		return current, true, fmt.Errorf("%w: animated cover scale: %v", ErrOperationFailed, err)
	}
	current.Release()
	current = scaled

	resizedH := current.Height()
	newPageH := resizedH / pages
	newW := current.Width()

	left, top := gravityOffset(p.Gravity, newW, newPageH, effW, effH)

	if top == 0 {
		next, err := current.Crop(left, 0, effW, resizedH)
		if err != nil {
			return current, true, fmt.Errorf("%w: animated cover crop: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
	} else {
		frames := make([]*ipximage.Handle, pages)
		for i := 0; i < pages; i++ {
			frame, err := current.Crop(left, i*newPageH+top, effW, effH)
			if err != nil {
				for _, f := range frames[:i] {
					f.Release()
				}
				return current, true, fmt.Errorf("%w: animated cover per-frame crop: %v", ErrOperationFailed, err)
			}
			frames[i] = frame
		}
		joined, err := ipximage.JoinVertical(frames)
		for _, f := range frames {
			f.Release()
		}
		current.Release()
		if err != nil {
			return nil, true, fmt.Errorf("%w: animated cover join: %v", ErrOperationFailed, err)
		}
		current = joined
	}

	if err := current.SetPageHeight(effH); err != nil {
		return current, true, fmt.Errorf("%w: set page height: %v", ErrOperationFailed, err)
	}
	if err := current.SetNPages(pages); err != nil {
		return current, true, fmt.Errorf("%w: set n-pages: %v", ErrOperationFailed, err)
	}

	return current, true, nil
}

func gravityToInteresting(g Gravity) vips.Interesting {
	switch g {
	case GravitySmart:
		return vips.InterestingEntropy
	case GravityAttention:
		return vips.InterestingAttention
	default:
		return vips.InterestingCentre
	}
}

func fitToSize(f Fit) vips.Size {
	switch f {
	case FitFill:
		return vips.SizeForce
	case FitOutside:
		return vips.SizeUp
	case FitCover:
		return vips.SizeBoth
	default: // contain, pad (already mapped to contain), inside
		return vips.SizeDown
	}
}

func clampDim(v int) int {
	if v < 1 {
		return 1
	}
	if v > maxDimension {
		return maxDimension
	}
	return v
}

func applyEffects(current *ipximage.Handle, p Params) (*ipximage.Handle, error) {
	if p.Sharpen != 0 {
		next, err := current.Sharpen(p.Sharpen, 1, 2)
		if err != nil {
			return current, fmt.Errorf("%w: sharpen: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
	}

	if p.Blur != 0 {
		next, err := current.Blur(p.Blur)
		if err != nil {
			return current, fmt.Errorf("%w: blur: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
	}

	if p.Brightness != -1 || p.Contrast != -1 {
		contrast := p.Contrast
		if contrast == -1 {
			contrast = 1
		}
		brightness := p.Brightness
		if brightness == -1 {
			brightness = 1
		}
		next, err := current.Linear(contrast, (brightness-1)*128)
		if err != nil {
			return current, fmt.Errorf("%w: brightness/contrast: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
	}

	if p.Gamma != 0 {
		next, err := current.Gamma(p.Gamma)
		if err != nil {
			return current, fmt.Errorf("%w: gamma: %v", ErrOperationFailed, err)
		}
		current.Release()
		current = next
	}

	if p.Saturation != -1 {
		next, err := applySaturation(current, p.Saturation)
		if err != nil {
			return current, err
		}
		current = next
	}

	return current, nil
}

func applySaturation(current *ipximage.Handle, saturation float64) (*ipximage.Handle, error) {
	lch, err := current.ToColorspace(vips.InterpretationLCH)
	if err != nil {
		return current, fmt.Errorf("%w: saturation to lch: %v", ErrOperationFailed, err)
	}

	l, err := lch.ExtractBand(0, 1)
	if err != nil {
		lch.Release()
		return current, fmt.Errorf("%w: saturation extract L: %v", ErrOperationFailed, err)
	}
	c, err := lch.ExtractBand(1, 1)
	if err != nil {
		l.Release()
		lch.Release()
		return current, fmt.Errorf("%w: saturation extract C: %v", ErrOperationFailed, err)
	}
	h, err := lch.ExtractBand(2, 1)
	lch.Release()
	if err != nil {
		l.Release()
		c.Release()
		return current, fmt.Errorf("%w: saturation extract H: %v", ErrOperationFailed, err)
	}

	scaledC, err := c.Linear(saturation, 0)
	c.Release()
	if err != nil {
		l.Release()
		h.Release()
		return current, fmt.Errorf("%w: saturation scale C: %v", ErrOperationFailed, err)
	}

	joined, err := l.BandJoin(scaledC, h)
	l.Release()
	scaledC.Release()
	h.Release()
	if err != nil {
		return current, fmt.Errorf("%w: saturation bandjoin: %v", ErrOperationFailed, err)
	}

	srgb, err := joined.ToColorspace(vips.InterpretationSRGB)
	joined.Release()
	if err != nil {
		return current, fmt.Errorf("%w: saturation to srgb: %v", ErrOperationFailed, err)
	}

	current.Release()
	return srgb, nil
}

func encode(current *ipximage.Handle, format imageformat.Format, p Params, animatedOutput bool) ([]byte, error) {
	stripMetadata := p.Metadata == MetadataStrip

	if format == imageformat.GIF {
		if err := current.CheckAnimatedInvariant(); err != nil {
			if err := current.SetPageHeight(current.Height()); err != nil {
				return nil, fmt.Errorf("%w: gif invariant repair: %v", ErrOperationFailed, err)
			}
			if err := current.SetNPages(1); err != nil {
				return nil, fmt.Errorf("%w: gif invariant repair: %v", ErrOperationFailed, err)
			}
		}
		data, err := current.EncodeGif(p.Quality, stripMetadata)
		if err != nil {
			return nil, fmt.Errorf("%w: encode gif: %v", ErrOperationFailed, err)
		}
		return data, nil
	}

	if animatedOutput && format == imageformat.WebP {
		if err := current.CheckAnimatedInvariant(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
		}
	}

	switch format {
	case imageformat.JPEG:
		data, err := current.EncodeJpeg(p.Quality, stripMetadata)
		if err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", ErrOperationFailed, err)
		}
		return data, nil
	case imageformat.PNG:
		data, err := current.EncodePng(stripMetadata)
		if err != nil {
			return nil, fmt.Errorf("%w: encode png: %v", ErrOperationFailed, err)
		}
		return data, nil
	case imageformat.WebP:
		data, err := current.EncodeWebp(p.Quality, stripMetadata)
		if err != nil {
			return nil, fmt.Errorf("%w: encode webp: %v", ErrOperationFailed, err)
		}
		return data, nil
	case imageformat.AVIF:
		data, err := current.EncodeAvif(p.Quality, stripMetadata)
		if err != nil {
			return nil, fmt.Errorf("%w: encode avif: %v", ErrOperationFailed, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrOperationFailed, format)
	}
}
