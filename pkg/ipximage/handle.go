// Package ipximage wraps a decoded libvips image (via govips) in an
// owning Handle. Every primitive that transforms a Handle returns a new
// Handle and leaves the source untouched; callers are responsible for
// releasing both the source and, on every exit path, whatever handle they
// end up holding. This mirrors govips's own *vips.ImageRef lifetime rules
// one level up, at the grain the transform pipeline operates on.
package ipximage

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

const (
	metaPageHeight = "page-height"
	metaNPages     = "n-pages"
)

// Handle is an owning reference to a decoded image. The zero value is not
// usable; construct one with Decode, DecodeAll, or DecodeN.
type Handle struct {
	ref      *vips.ImageRef
	released bool
}

// wrap takes ownership of an already-loaded *vips.ImageRef.
func wrap(ref *vips.ImageRef) *Handle {
	return &Handle{ref: ref}
}

// Decode decodes only the first frame/page of the source bytes. Used for
// the pipeline's cheap animation probe.
func Decode(data []byte) (*Handle, error) {
	return decodePages(data, 1)
}

// DecodeAll decodes every frame, vertically stacked into one tall image.
func DecodeAll(data []byte) (*Handle, error) {
	return decodePages(data, -1)
}

// DecodeN decodes the first n frames, vertically stacked.
func DecodeN(data []byte, n int) (*Handle, error) {
	if n < 1 {
		return decodePages(data, 1)
	}
	return decodePages(data, n)
}

func decodePages(data []byte, n int) (*Handle, error) {
	params := vips.NewImportParams()
	params.NumPages.Set(n)

	ref, err := vips.LoadImageFromBuffer(data, params)
	if err != nil {
		return nil, fmt.Errorf("ipximage: decode: %w", err)
	}
	return wrap(ref), nil
}

// Release frees the underlying libvips resources. Safe to call more than
// once and safe to call on a nil handle.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.ref.Close()
}

// Width returns the image width in pixels.
func (h *Handle) Width() int { return h.ref.Width() }

// Height returns the total image height in pixels. For an animated
// image this is nPages * PageHeight().
func (h *Handle) Height() int { return h.ref.Height() }

// Bands returns the number of colour bands (channels).
func (h *Handle) Bands() int { return h.ref.Bands() }

// HasAlpha reports whether the image carries an alpha channel.
func (h *Handle) HasAlpha() bool { return h.ref.HasAlpha() }

// NPages returns the frame count. Static images report 1.
func (h *Handle) NPages() int {
	n, err := h.ref.GetIntDefault(metaNPages, 1)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// IsAnimated reports whether the handle carries more than one frame.
func (h *Handle) IsAnimated() bool { return h.NPages() > 1 }

// PageHeight returns the per-frame height. Static images report Height().
func (h *Handle) PageHeight() int {
	ph, err := h.ref.GetIntDefault(metaPageHeight, h.Height())
	if err != nil || ph <= 0 {
		return h.Height()
	}
	return ph
}

// SetPageHeight overwrites the page-height metadata field. Must be called
// after any operation that changes the image's pixel dimensions but
// leaves stale frame-height metadata behind.
func (h *Handle) SetPageHeight(v int) error {
	return h.ref.SetInt(metaPageHeight, v)
}

// SetNPages overwrites the n-pages metadata field.
func (h *Handle) SetNPages(v int) error {
	return h.ref.SetInt(metaNPages, v)
}

// CheckAnimatedInvariant enforces height = nPages * pageHeight with a
// positive, exactly-dividing pageHeight. Called as a precondition of
// every animated encoder invocation.
func (h *Handle) CheckAnimatedInvariant() error {
	n, ph := h.NPages(), h.PageHeight()
	if ph <= 0 || h.Height()%ph != 0 || h.Height()/ph != n {
		return fmt.Errorf("ipximage: animated invariant violated: height=%d nPages=%d pageHeight=%d", h.Height(), n, ph)
	}
	return nil
}

// Thumbnail performs a single-call resize to width x height using the
// given crop and size-fit modes. Preserves stacked-frame layout when
// cropMode does not request a crop.
func (h *Handle) Thumbnail(width, height int, cropMode vips.Interesting, sizeMode vips.Size) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: thumbnail copy: %w", err)
	}
	if err := ref.ThumbnailWithSize(width, height, cropMode, sizeMode); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: thumbnail: %w", err)
	}
	return wrap(ref), nil
}

// ResizeScale scales both axes uniformly by scale, without cropping.
// Used by the animated-cover two-step resize.
func (h *Handle) ResizeScale(scale float64, kernel vips.Kernel) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: resize copy: %w", err)
	}
	if err := ref.Resize(scale, kernel); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: resize: %w", err)
	}
	return wrap(ref), nil
}

// Crop extracts a rectangular region.
func (h *Handle) Crop(left, top, width, height int) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: crop copy: %w", err)
	}
	if err := ref.ExtractArea(left, top, width, height); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: crop: %w", err)
	}
	return wrap(ref), nil
}

// Rotate rotates by a multiple of 90 degrees.
func (h *Handle) Rotate(angle vips.Angle) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: rotate copy: %w", err)
	}
	if err := ref.Rotate(angle); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: rotate: %w", err)
	}
	return wrap(ref), nil
}

// Flip flips along the given direction.
func (h *Handle) Flip(direction vips.Direction) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: flip copy: %w", err)
	}
	if err := ref.Flip(direction); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: flip: %w", err)
	}
	return wrap(ref), nil
}

// Sharpen applies unsharp-mask sharpening in place on a copy.
func (h *Handle) Sharpen(sigma, flat, jagged float64) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: sharpen copy: %w", err)
	}
	if err := ref.Sharpen(sigma, flat, jagged); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: sharpen: %w", err)
	}
	return wrap(ref), nil
}

// Blur applies Gaussian blur.
func (h *Handle) Blur(sigma float64) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: blur copy: %w", err)
	}
	if err := ref.GaussianBlur(sigma); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: blur: %w", err)
	}
	return wrap(ref), nil
}

// Linear applies per-band y = a*x + b. Used for brightness/contrast.
func (h *Handle) Linear(a, b float64) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: linear copy: %w", err)
	}
	bands := ref.Bands()
	as := make([]float64, bands)
	bs := make([]float64, bands)
	for i := range as {
		as[i], bs[i] = a, b
	}
	if err := ref.Linear(as, bs); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: linear: %w", err)
	}
	return wrap(ref), nil
}

// Gamma applies gamma correction.
func (h *Handle) Gamma(exponent float64) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: gamma copy: %w", err)
	}
	if err := ref.Gamma(exponent); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: gamma: %w", err)
	}
	return wrap(ref), nil
}

// ToColorspace converts to the given interpretation (e.g. LCH for the
// saturation round trip, sRGB to convert back).
func (h *Handle) ToColorspace(space vips.Interpretation) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: colourspace copy: %w", err)
	}
	if err := ref.ToColorSpace(space); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: colourspace: %w", err)
	}
	return wrap(ref), nil
}

// ExtractBand extracts num bands starting at band.
func (h *Handle) ExtractBand(band, num int) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: extract band copy: %w", err)
	}
	if err := ref.ExtractBand(band, num); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: extract band: %w", err)
	}
	return wrap(ref), nil
}

// BandJoin joins h with others, in order, into a multi-band image.
func (h *Handle) BandJoin(others ...*Handle) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: bandjoin copy: %w", err)
	}
	refs := make([]*vips.ImageRef, len(others))
	for i, o := range others {
		refs[i] = o.ref
	}
	if err := ref.BandJoin(refs...); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: bandjoin: %w", err)
	}
	return wrap(ref), nil
}

// Flatten removes the alpha channel by compositing onto an opaque
// background colour.
func (h *Handle) Flatten(r, g, b uint8) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: flatten copy: %w", err)
	}
	if err := ref.Flatten(&vips.Color{R: r, G: g, B: b}); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: flatten: %w", err)
	}
	return wrap(ref), nil
}

// Embed places the image at (x, y) on a canvas of size (width, height),
// padding the rest with the given background colour.
func (h *Handle) Embed(x, y, width, height int, r, g, b uint8) (*Handle, error) {
	ref, err := h.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: embed copy: %w", err)
	}
	bg := &vips.ColorRGBA{R: r, G: g, B: b, A: 255}
	if err := ref.EmbedBackground(x, y, width, height, bg); err != nil {
		ref.Close()
		return nil, fmt.Errorf("ipximage: embed: %w", err)
	}
	return wrap(ref), nil
}

// TrimBounds is the bounding box returned by FindTrim.
type TrimBounds struct {
	Left, Top, Width, Height int
}

// FindTrim computes the bounding box of non-background content against
// the given threshold. A zero-size result means nothing to trim.
func (h *Handle) FindTrim(threshold float64) (TrimBounds, error) {
	left, top, width, height, err := h.ref.FindTrim(threshold, &vips.Color{R: 255, G: 255, B: 255})
	if err != nil {
		return TrimBounds{}, fmt.Errorf("ipximage: find trim: %w", err)
	}
	return TrimBounds{Left: left, Top: top, Width: width, Height: height}, nil
}

// JoinVertical reassembles independently-processed frames into a single
// vertically stacked handle, setting page-height/n-pages to match. Used
// after the animated-cover exception crops each frame individually.
func JoinVertical(frames []*Handle) (*Handle, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("ipximage: join vertical: no frames")
	}

	width := frames[0].Width()
	pageHeight := frames[0].Height()
	totalHeight := pageHeight * len(frames)

	canvas, err := frames[0].ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("ipximage: join vertical copy: %w", err)
	}
	if err := canvas.EmbedBackground(0, 0, width, totalHeight, &vips.ColorRGBA{A: 0}); err != nil {
		canvas.Close()
		return nil, fmt.Errorf("ipximage: join vertical embed: %w", err)
	}

	for i := 1; i < len(frames); i++ {
		if err := canvas.Composite2(frames[i].ref, vips.BlendModeOver, 0, i*pageHeight); err != nil {
			canvas.Close()
			return nil, fmt.Errorf("ipximage: join vertical composite frame %d: %w", i, err)
		}
	}

	out := wrap(canvas)
	if err := out.SetPageHeight(pageHeight); err != nil {
		out.Release()
		return nil, err
	}
	if err := out.SetNPages(len(frames)); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// EncodeJpeg encodes as JPEG at the given quality (1-100).
func (h *Handle) EncodeJpeg(quality int, stripMetadata bool) ([]byte, error) {
	params := vips.NewJpegExportParams()
	params.Quality = quality
	params.StripMetadata = stripMetadata
	out, _, err := h.ref.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("ipximage: encode jpeg: %w", err)
	}
	return out, nil
}

// EncodePng encodes as PNG.
func (h *Handle) EncodePng(stripMetadata bool) ([]byte, error) {
	params := vips.NewPngExportParams()
	params.StripMetadata = stripMetadata
	out, _, err := h.ref.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("ipximage: encode png: %w", err)
	}
	return out, nil
}

// EncodeWebp encodes as WebP, preserving any loaded animation frames.
func (h *Handle) EncodeWebp(quality int, stripMetadata bool) ([]byte, error) {
	params := vips.NewWebpExportParams()
	params.Quality = quality
	params.StripMetadata = stripMetadata
	out, _, err := h.ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("ipximage: encode webp: %w", err)
	}
	return out, nil
}

// EncodeAvif encodes as AVIF.
func (h *Handle) EncodeAvif(quality int, stripMetadata bool) ([]byte, error) {
	params := vips.NewAvifExportParams()
	params.Quality = quality
	params.StripMetadata = stripMetadata
	out, _, err := h.ref.ExportAvif(params)
	if err != nil {
		return nil, fmt.Errorf("ipximage: encode avif: %w", err)
	}
	return out, nil
}

// EncodeGif encodes as GIF. The caller must have already validated the
// animated invariant (height = nPages * pageHeight) via
// CheckAnimatedInvariant; EncodeGif does not re-check it. The encoder's
// own internal validation is a safety net, not a substitute for the
// pipeline's check.
func (h *Handle) EncodeGif(quality int, stripMetadata bool) ([]byte, error) {
	params := vips.NewGifExportParams()
	params.Quality = quality
	params.StripMetadata = stripMetadata
	out, _, err := h.ref.ExportGIF(params)
	if err != nil {
		return nil, fmt.Errorf("ipximage: encode gif: %w", err)
	}
	return out, nil
}
