package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/officialunofficial/zimgx/pkg/cache"
	"github.com/officialunofficial/zimgx/pkg/imageformat"
	"github.com/officialunofficial/zimgx/pkg/metrics"
	"github.com/officialunofficial/zimgx/pkg/origin"
	"github.com/officialunofficial/zimgx/pkg/transform"
)

// Request is the HTTP-agnostic view of an inbound request the dispatcher
// needs to act on.
type Request struct {
	// Path is net/http's decoded URL path, e.g. "/photos/a.jpg/w=200".
	Path string
	// RawTarget is the undecoded request-target, checked for encoded
	// traversal sequences a decoded Path would already have resolved away.
	RawTarget   string
	IfNoneMatch string
	Accept      string
}

// Dispatcher routes requests to the well-known endpoints or the image
// pipeline. It holds no per-request state; every field is safe for
// concurrent use by many goroutines.
type Dispatcher struct {
	Cache             cache.Cache
	Fetcher           origin.Fetcher
	PathPrefix        string
	AnimConfig        transform.AnimConfig
	Stats             *metrics.Stats
	DefaultTTLSeconds int

	originTimeout time.Duration
	fetchGroup    singleflight.Group
}

// NewDispatcher builds a Dispatcher. originTimeout bounds each origin
// fetch, including retries the fetcher performs internally. ttlSeconds
// becomes the max-age of every image response's Cache-Control header.
func NewDispatcher(c cache.Cache, f origin.Fetcher, pathPrefix string, animCfg transform.AnimConfig, stats *metrics.Stats, originTimeout time.Duration, ttlSeconds int) *Dispatcher {
	return &Dispatcher{
		Cache:             c,
		Fetcher:           f,
		PathPrefix:        pathPrefix,
		AnimConfig:        animCfg,
		Stats:             stats,
		DefaultTTLSeconds: ttlSeconds,
		originTimeout:     originTimeout,
	}
}

// Dispatch routes one request to its handler and always returns a
// Response; it never panics on malformed input.
func (d *Dispatcher) Dispatch(req Request) Response {
	d.Stats.IncRequests()

	switch req.Path {
	case "/health":
		return jsonBody(200, map[string]string{"status": "ok"})
	case "/ready":
		return jsonBody(200, map[string]bool{"ready": true})
	case "/metrics":
		return jsonBody(200, d.Stats.Snapshot(d.Cache.Size()))
	}

	if !pathIsSafe(req.Path, req.RawTarget) {
		return jsonError(404, "not found", "")
	}

	return d.imageRequest(req)
}

// pathIsSafe rejects directory traversal, NUL-byte smuggling, and
// embedded-absolute-path attempts, checking both the decoded path and the
// raw request target so a double-encoded sequence can't slip past
// decoding.
func pathIsSafe(decoded, raw string) bool {
	if decoded == "" || decoded == "/" {
		return false
	}
	if strings.Contains(decoded, "..") || strings.ContainsRune(decoded, 0) {
		return false
	}
	if strings.HasPrefix(decoded, "//") || strings.HasPrefix(raw, "//") {
		return false
	}
	lowerRaw := strings.ToLower(raw)
	if strings.Contains(lowerRaw, "%2e") || strings.Contains(lowerRaw, "%2f") || strings.Contains(lowerRaw, "%00") {
		return false
	}
	return true
}

// splitTransform pulls a trailing "key=value,..." segment off a path,
// leaving the origin object path behind. A last segment with no '=' means
// no transform was requested.
func splitTransform(path string) (objectPath, rawTransform string) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	last := trimmed
	if idx >= 0 {
		last = trimmed[idx+1:]
	}
	if !strings.Contains(last, "=") {
		return path, ""
	}
	if idx < 0 {
		return "/", last
	}
	return path[:len(path)-len(last)-1], last
}

func (d *Dispatcher) imageRequest(req Request) Response {
	objectPath, rawTransform := splitTransform(req.Path)

	params, err := transform.Parse(rawTransform)
	if err != nil {
		return jsonError(400, "invalid transform parameters", err.Error())
	}
	if err := params.Validate(); err != nil {
		return jsonError(422, "transform parameters out of range", err.Error())
	}

	formatKey := string(imageformat.Auto)
	if params.Format != imageformat.Auto && params.Format != "" {
		formatKey = string(params.Format)
	}
	key := cache.Key(objectPath, rawTransform, formatKey)

	if entry, ok := d.Cache.Get(key); ok {
		d.Stats.IncCacheHits()
		return d.conditionalResponse(entry, req.IfNoneMatch)
	}
	d.Stats.IncCacheMisses()

	originResult, err := d.fetchOrigin(objectPath)
	if err != nil {
		return originErrorResponse(err)
	}

	result, err := transform.Run(originResult.Data, params, req.Accept, d.AnimConfig)
	if err != nil {
		contentType := originResult.ContentType
		if contentType == "" {
			contentType = imageformat.Sniff(originResult.Data).ContentType()
		}
		return d.cacheAndRespond(key, cache.Entry{Data: originResult.Data, ContentType: contentType, CreatedAt: time.Now()}, req.IfNoneMatch)
	}

	return d.cacheAndRespond(key, cache.Entry{Data: result.Data, ContentType: result.ContentType, CreatedAt: time.Now()}, req.IfNoneMatch)
}

// fetchOrigin dedupes concurrent fetches of the same object behind a
// singleflight group, so a burst of requests for a cold key that differ
// only in transform string still issue one origin fetch each per distinct
// object, not one per request.
func (d *Dispatcher) fetchOrigin(objectPath string) (origin.Result, error) {
	fetchPath := origin.StripPathPrefix(objectPath, d.PathPrefix)
	v, err, _ := d.fetchGroup.Do(fetchPath, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), d.originTimeout)
		defer cancel()
		return d.Fetcher.Fetch(ctx, fetchPath)
	})
	if err != nil {
		return origin.Result{}, err
	}
	return v.(origin.Result), nil
}

// cacheAndRespond stores entry and re-reads it through Cache.Get so the
// response always borrows cache-owned memory, even for an in-process LRU
// backend that copies on Put. If the cache rejects the entry (e.g. larger
// than its budget), the response falls back to entry's own bytes.
func (d *Dispatcher) cacheAndRespond(key string, entry cache.Entry, ifNoneMatch string) Response {
	d.Cache.Put(key, entry)
	if cached, ok := d.Cache.Get(key); ok {
		return d.conditionalResponse(cached, ifNoneMatch)
	}
	return d.conditionalResponse(entry, ifNoneMatch)
}

func (d *Dispatcher) conditionalResponse(entry cache.Entry, ifNoneMatch string) Response {
	etag := ComputeETag(entry.Data)
	cacheControl := fmt.Sprintf("public, max-age=%d", d.DefaultTTLSeconds)
	if ifNoneMatchSatisfied(ifNoneMatch, etag) {
		return Response{Status: 304, ETag: etag, CacheControl: cacheControl, Vary: varyHeader}
	}
	return Response{
		Status:       200,
		ContentType:  entry.ContentType,
		Body:         entry.Data,
		ETag:         etag,
		CacheControl: cacheControl,
		Vary:         varyHeader,
	}
}

const varyHeader = "Accept"

func originErrorResponse(err error) Response {
	var fe *origin.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case origin.NotFound:
			return jsonError(404, "image not found", "")
		case origin.Timeout:
			return jsonError(504, "origin timed out", "")
		case origin.ResponseTooLarge:
			return jsonError(413, "origin response too large", "")
		}
	}
	return jsonError(502, "origin fetch failed", err.Error())
}
