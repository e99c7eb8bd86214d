package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestIDHeader carries the per-request id to the API.
const RequestIDHeader = "X-SDK-Request-ID"

// Transport logs every outgoing request. Requests are never logged with
// their headers or bodies, which carry credentials.
//
// A logger carried by the request context is used as is and is expected to
// hold the request id already. Otherwise Logger is tagged with the id from
// the RequestIDHeader.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	logger, ok := lookup(r.Context())
	if !ok {
		logger = t.Logger.With("req_id", r.Header.Get(RequestIDHeader))
	}
	logger = logger.With("method", r.Method, "path", r.URL.Path)

	resp, err := t.Base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("http_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("http_request", "status", resp.StatusCode, "duration_ms", duration)
	return resp, nil
}
