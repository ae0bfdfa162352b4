// Package main provides the zimgx HTTP image proxy and on-the-fly
// transformation server.
//
// Usage:
//
//	zimgx
//
// Every setting is read from the environment (see pkg/config). The server
// exposes image requests at any path plus /health, /ready, and /metrics.
package main
