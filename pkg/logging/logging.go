// Package logging builds the process-wide structured logger and the
// per-request access-log helper the dispatcher calls after every response.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger writing newline-delimited JSON to stdout,
// stamped with the service name and a RFC3339 timestamp.
func New(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "zimgx").
		Logger()
}

// RequestID generates a short correlation id for an inbound request. It
// is not a UUID: the access log only needs request-scoped uniqueness, not
// global uniqueness.
func RequestID(counter uint64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if counter == 0 {
		return "0"
	}
	var buf [13]byte
	i := len(buf)
	for counter > 0 {
		i--
		buf[i] = alphabet[counter%uint64(len(alphabet))]
		counter /= uint64(len(alphabet))
	}
	return string(buf[i:])
}

// LogResponse writes one access-log line correlating a request id with
// its route, status, byte count, and latency.
func LogResponse(logger zerolog.Logger, requestID, route string, status int, bytes int, duration time.Duration) {
	logger.Info().
		Str("request_id", requestID).
		Str("route", route).
		Int("status", status).
		Int("bytes", bytes).
		Dur("duration", duration).
		Msg("request handled")
}
