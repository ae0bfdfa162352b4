package server

import (
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/officialunofficial/zimgx/pkg/metrics"
	"github.com/officialunofficial/zimgx/pkg/transform"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func encodeTestPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf []byte
	bw := &byteWriter{&buf}
	png.Encode(bw, img)
	return buf
}

type byteWriter struct{ buf *[]byte }

func (b *byteWriter) Write(p []byte) (int, error) {
	*b.buf = append(*b.buf, p...)
	return len(p), nil
}

func TestHTTPServerServesTransformedImage(t *testing.T) {
	c := newMemCache()
	fetcher := &fakeFetcher{data: encodeTestPNG(100, 50), ctype: "image/png"}
	dispatcher := NewDispatcher(c, fetcher, "", transform.AnimConfig{}, metrics.New(), 5*time.Second, 86400)
	httpSrv := NewHTTPServer(dispatcher, testLogger(), HTTPServerConfig{RequestTimeout: 5 * time.Second})

	srv := httptest.NewServer(httpSrv.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/a.png/w=50,fit=inside")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") == "" {
		t.Fatal("missing content-type")
	}
	if resp.Header.Get("ETag") == "" {
		t.Fatal("missing etag")
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Errorf("Cache-Control = %q, want %q", cc, "public, max-age=86400")
	}

	outImg, _, err := image.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode out: %v", err)
	}
	if outImg.Bounds().Dx() != 50 {
		t.Fatalf("width = %d, want 50", outImg.Bounds().Dx())
	}
}

func TestHTTPServerHealthEndpoint(t *testing.T) {
	c := newMemCache()
	dispatcher := NewDispatcher(c, &fakeFetcher{}, "", transform.AnimConfig{}, metrics.New(), time.Second, 86400)
	httpSrv := NewHTTPServer(dispatcher, testLogger(), HTTPServerConfig{RequestTimeout: 5 * time.Second})

	srv := httptest.NewServer(httpSrv.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
