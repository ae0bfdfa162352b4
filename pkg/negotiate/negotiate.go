// Package negotiate chooses an output image format from a client's Accept
// header, the source image's alpha channel, and its animation state.
//
// Both entry points are pure functions: no I/O, no shared state, safe to
// call from any goroutine without synchronization.
package negotiate

import (
	"strconv"
	"strings"

	"github.com/officialunofficial/zimgx/pkg/imageformat"
)

// capabilities is the parsed form of an Accept header: which image media
// types the client declared support for, each with a q value. A q of 0
// means explicitly rejected even if the type is otherwise listed.
type capabilities struct {
	wildcard bool
	q        map[imageformat.Format]float64
}

func (c capabilities) accepts(f imageformat.Format) bool {
	if q, ok := c.q[f]; ok {
		return q > 0
	}
	return c.wildcard
}

// parseAccept parses an Accept header into a capability set. Unknown media
// types are silently ignored; malformed q values default to q=1.
func parseAccept(accept string) capabilities {
	caps := capabilities{q: make(map[imageformat.Format]float64)}
	if strings.TrimSpace(accept) == "" {
		return caps
	}

	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Split(part, ";")
		mediaType := strings.ToLower(strings.TrimSpace(fields[0]))

		q := 1.0
		for _, param := range fields[1:] {
			param = strings.TrimSpace(param)
			if v, ok := strings.CutPrefix(param, "q="); ok {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = parsed
				}
			}
		}

		switch mediaType {
		case "*/*":
			caps.wildcard = true
		case "image/*":
			caps.wildcard = true
		case "image/avif":
			caps.q[imageformat.AVIF] = q
		case "image/webp":
			caps.q[imageformat.WebP] = q
		case "image/jpeg", "image/jpg":
			caps.q[imageformat.JPEG] = q
		case "image/png":
			caps.q[imageformat.PNG] = q
		case "image/gif":
			caps.q[imageformat.GIF] = q
		}
	}

	return caps
}

// Format chooses an output format for a still-image request.
//
//  1. An explicit, non-auto requested format always wins.
//  2. Otherwise the client's Accept capabilities decide, in priority order
//     that depends on whether the source has an alpha channel.
//  3. An empty or entirely rejecting Accept header degrades to JPEG.
func Format(accept string, sourceHasAlpha bool, requested imageformat.Format) imageformat.Format {
	if requested != "" && requested != imageformat.Auto {
		return requested
	}

	caps := parseAccept(accept)

	var priority []imageformat.Format
	if sourceHasAlpha {
		priority = []imageformat.Format{imageformat.AVIF, imageformat.WebP, imageformat.PNG, imageformat.JPEG}
	} else {
		priority = []imageformat.Format{imageformat.AVIF, imageformat.WebP, imageformat.JPEG, imageformat.PNG}
	}

	for _, f := range priority {
		if caps.accepts(f) {
			return f
		}
	}

	return imageformat.JPEG
}

// AnimatedFormat chooses an output format for an animated request, or ""
// if the caller should degrade the response to a static image.
//
//  1. An explicit requested format that supports animation wins outright.
//  2. An explicit requested format that does not support animation forces
//     static degradation, regardless of what Accept allows.
//  3. Otherwise WebP is preferred over GIF when the client accepts it;
//     absent both, the caller degrades to static.
func AnimatedFormat(accept string, requested imageformat.Format) imageformat.Format {
	if requested != "" && requested != imageformat.Auto {
		if requested.SupportsAnimation() {
			return requested
		}
		return ""
	}

	caps := parseAccept(accept)
	if caps.accepts(imageformat.WebP) {
		return imageformat.WebP
	}
	if caps.accepts(imageformat.GIF) {
		return imageformat.GIF
	}

	return ""
}
