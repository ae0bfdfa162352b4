package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, time.Second, 1<<20, 0)
	res, err := f.Fetch(context.Background(), "/photo.jpg")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(res.Data) != "image-bytes" || res.ContentType != "image/jpeg" {
		t.Errorf("Fetch result = %+v", res)
	}
}

func TestHTTPFetcherMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, time.Second, 1<<20, 0)
	_, err := f.Fetch(context.Background(), "missing.jpg")

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != NotFound {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestHTTPFetcherMapsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, time.Second, 1<<20, 0)
	_, err := f.Fetch(context.Background(), "x.jpg")

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ServerError {
		t.Errorf("err = %v, want ServerError", err)
	}
}

func TestHTTPFetcherEnforcesMaxResponseSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, time.Second, 10, 0)
	_, err := f.Fetch(context.Background(), "big.jpg")

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ResponseTooLarge {
		t.Errorf("err = %v, want ResponseTooLarge", err)
	}
}

func TestHTTPFetcherRejectsEmptyPath(t *testing.T) {
	f := NewHTTPFetcher("http://example.invalid", time.Second, 1<<20, 0)
	_, err := f.Fetch(context.Background(), "")

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != NotFound {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestStripPathPrefix(t *testing.T) {
	cases := []struct{ path, prefix, want string }{
		{"/acct123/photo.jpg", "acct123", "photo.jpg"},
		{"acct123/photo.jpg", "acct123", "photo.jpg"},
		{"/other/photo.jpg", "acct123", "/other/photo.jpg"},
		{"/photo.jpg", "", "/photo.jpg"},
	}
	for _, c := range cases {
		if got := StripPathPrefix(c.path, c.prefix); got != c.want {
			t.Errorf("StripPathPrefix(%q, %q) = %q, want %q", c.path, c.prefix, got, c.want)
		}
	}
}
