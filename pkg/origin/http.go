package origin

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPFetcher fetches original bytes from a plain HTTP origin.
type HTTPFetcher struct {
	baseURL         string
	client          *http.Client
	maxResponseSize int64
	maxRetries      int
	userAgent       string
}

// NewHTTPFetcher builds an HTTP origin fetcher with a connection-reusing
// client tuned for fan-out to a single origin host.
func NewHTTPFetcher(baseURL string, timeout time.Duration, maxResponseSize int64, maxRetries int) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL:         strings.TrimRight(baseURL, "/"),
		maxResponseSize: maxResponseSize,
		maxRetries:      maxRetries,
		userAgent:       "zimgx/1.0",
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        500,
				MaxIdleConnsPerHost: 100,
				MaxConnsPerHost:     256,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
	}
}

// Fetch issues a GET against baseURL/path, retrying connection failures
// up to maxRetries times.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) (Result, error) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return Result{}, &FetchError{Kind: NotFound, Err: errors.New("empty path")}
	}

	url := f.baseURL + "/" + path

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		result, err := f.fetchOnce(ctx, url)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind != ConnectionFailed {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, &FetchError{Kind: ConnectionFailed, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, &FetchError{Kind: Timeout, Err: err}
		}
		return Result{}, &FetchError{Kind: ConnectionFailed, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{}, &FetchError{Kind: NotFound}
	case resp.StatusCode >= http.StatusInternalServerError:
		return Result{}, &FetchError{Kind: ServerError}
	case resp.StatusCode != http.StatusOK:
		return Result{}, &FetchError{Kind: ServerError}
	}

	limited := io.LimitReader(resp.Body, f.maxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Result{}, &FetchError{Kind: ConnectionFailed, Err: err}
	}
	if int64(len(data)) > f.maxResponseSize {
		return Result{}, &FetchError{Kind: ResponseTooLarge}
	}

	return Result{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}
