package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/idx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
	"golang.org/x/time/rate"
)

// ErrNoPublicToken is returned by Do before any request is sent when the
// client has no public token.
var ErrNoPublicToken = errors.New("authsdk: client has no public token")

const (
	// InstallationIDHeader identifies the SDK installation to the provider.
	InstallationIDHeader = "X-SDK-Installation-ID"

	// DefaultSessionDurationMinutes is requested on every authenticate call
	// unless the client overrides it.
	DefaultSessionDurationMinutes = 60
)

// Client is a client for the auth provider's SDK API.
type Client struct {
	BaseURL     string
	PublicToken string

	// InstallationID is sent with every request when set.
	InstallationID string

	HTTPClient *http.Client

	// Limiter, if set, throttles outgoing requests client side.
	Limiter *rate.Limiter

	Logger *slog.Logger

	// SessionDurationMinutes is requested when a call creates or extends a
	// session.
	SessionDurationMinutes int
}

// NewClient creates a client with a 10s timeout, request logging and a
// limiter of 10 requests per second.
func NewClient(baseURL, publicToken string) *Client {
	logger := slog.Default()
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		PublicToken: publicToken,
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: slogx.NewTransport(nil, logger),
		},
		Limiter:                rate.NewLimiter(rate.Limit(10), 10),
		Logger:                 logger,
		SessionDurationMinutes: DefaultSessionDurationMinutes,
	}
}

// url builds a complete URL by appending the path to the base URL.
func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Client) sessionDuration() int {
	if c.SessionDurationMinutes <= 0 {
		return DefaultSessionDurationMinutes
	}
	return c.SessionDurationMinutes
}

// Do sends in as JSON to path and decodes the response into out. Either may
// be nil. Non-2xx responses are returned as *APIError.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	if c.PublicToken == "" {
		return ErrNoPublicToken
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	reqID := idx.Request()
	ctx = slogx.WithContext(ctx, slogx.FromContextOr(ctx, c.logger()).With("req_id", reqID))

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.PublicToken, c.PublicToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(slogx.RequestIDHeader, reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.InstallationID != "" {
		req.Header.Set(InstallationIDHeader, c.InstallationID)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	return decodeJSON(resp, out, reqID)
}

// decodeJSON reads the response once, returning a typed APIError for
// non-2xx statuses and unwrapping the data envelope otherwise.
func decodeJSON(resp *http.Response, target any, reqID string) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := parseErrorResponse(resp, bodyBytes, reqID); err != nil {
		return err
	}

	if target == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err == nil && len(envelope.Data) > 0 {
		bodyBytes = envelope.Data
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
