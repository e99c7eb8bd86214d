package slogx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToOutput(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "sessionctl", Env: "test", Level: "debug", Output: &buf})
	logger.Debug("hello", "slot", "consumer")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "sessionctl", line["service"])
	require.Equal(t, "consumer", line["slot"])
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := slogx.WithRequestID(slogx.WithContext(context.Background(), base), "req-1")
	slogx.FromContext(ctx).Info("traced")
	require.Contains(t, buf.String(), `"req_id":"req-1"`)

	// Without a logger in context we fall back to the default
	require.NotNil(t, slogx.FromContext(context.Background()))
}

func TestTransportLogsWithoutSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := &http.Client{Transport: slogx.NewTransport(nil, logger)}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sessions/authenticate", nil)
	require.NoError(t, err)
	req.Header.Set(slogx.RequestIDHeader, "req-42")
	req.SetBasicAuth("public-token-live", "public-token-live")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	require.Contains(t, out, `"req_id":"req-42"`)
	require.Contains(t, out, `"status":418`)
	require.Contains(t, out, `"path":"/sessions/authenticate"`)
	require.NotContains(t, out, "public-token-live")
}

func TestTransportPrefersContextLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var transportBuf, ctxBuf bytes.Buffer
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	client := &http.Client{Transport: slogx.NewTransport(nil, slog.New(slog.NewJSONHandler(&transportBuf, opts)))}

	ctx := slogx.WithContext(context.Background(), slog.New(slog.NewJSONHandler(&ctxBuf, opts)))
	ctx = slogx.WithRequestID(ctx, "req-ctx")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/x", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Empty(t, transportBuf.String())
	require.Contains(t, ctxBuf.String(), `"req_id":"req-ctx"`)
	require.Equal(t, 1, bytes.Count(ctxBuf.Bytes(), []byte(`"req_id"`)))
}

func TestFromContextOr(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	require.Same(t, fallback, slogx.FromContextOr(context.Background(), fallback))

	carried := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := slogx.WithContext(context.Background(), carried)
	require.Same(t, carried, slogx.FromContextOr(ctx, fallback))
}
