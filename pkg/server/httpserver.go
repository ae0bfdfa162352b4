package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/rs/zerolog"

	"github.com/officialunofficial/zimgx/pkg/logging"
)

// HTTPServerConfig controls the connection loop wrapping a Dispatcher.
type HTTPServerConfig struct {
	Addr              string
	MaxConnections    int
	RequestTimeout    time.Duration
	ReadHeaderTimeout time.Duration
}

// HTTPServer adapts a Dispatcher to net/http, applying admission control
// and request-id access logging around every connection.
type HTTPServer struct {
	dispatcher *Dispatcher
	logger     zerolog.Logger
	cfg        HTTPServerConfig
	server     *http.Server
	requestSeq uint64
}

// NewHTTPServer builds an HTTPServer. Call Serve to accept connections.
func NewHTTPServer(d *Dispatcher, logger zerolog.Logger, cfg HTTPServerConfig) *HTTPServer {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 64
	}
	s := &HTTPServer{dispatcher: d, logger: logger, cfg: cfg}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           http.TimeoutHandler(http.HandlerFunc(s.handle), cfg.RequestTimeout, `{"error":{"status":504,"message":"request timed out"}}`),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Serve opens a listener on cfg.Addr, bounds its concurrent connection
// count via netutil.LimitListener, and blocks until the listener is
// closed or accept fails.
func (s *HTTPServer) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	bounded := netutil.LimitListener(ln, s.cfg.MaxConnections)
	return s.server.Serve(bounded)
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the server's http.Handler directly, for tests that want
// to drive it through httptest rather than a real listener.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := logging.RequestID(atomic.AddUint64(&s.requestSeq, 1))

	resp := s.dispatcher.Dispatch(Request{
		Path:        r.URL.Path,
		RawTarget:   r.RequestURI,
		IfNoneMatch: r.Header.Get("If-None-Match"),
		Accept:      r.Header.Get("Accept"),
	})

	writeResponse(w, resp)
	if resp.Release != nil {
		resp.Release()
	}

	logging.LogResponse(s.logger, requestID, r.URL.Path, resp.Status, len(resp.Body), time.Since(start))
}

func writeResponse(w http.ResponseWriter, resp Response) {
	header := w.Header()
	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	if resp.CacheControl != "" {
		header.Set("Cache-Control", resp.CacheControl)
	}
	if resp.Vary != "" {
		header.Set("Vary", resp.Vary)
	}
	if resp.ETag != "" {
		header.Set("ETag", strconv.Quote(resp.ETag))
	}
	w.WriteHeader(resp.Status)
	if resp.Status != http.StatusNotModified {
		w.Write(resp.Body)
	}
}
