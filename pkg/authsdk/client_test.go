package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// newTestClient points a client at handler with the limiter off so tests do
// not wait on each other.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "public-token-test")
	c.Limiter = nil
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func sessionBody(token string) map[string]any {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return map[string]any{
		"request_id":    "req-1",
		"user_id":       "user-1",
		"session_token": token,
		"session_jwt":   "jwt-" + token,
		"session": map[string]any{
			"session_id":       "sess-1",
			"user_id":          "user-1",
			"started_at":       now,
			"last_accessed_at": now,
			"expires_at":       now.Add(time.Hour),
		},
	}
}

func TestDo_Headers(t *testing.T) {
	t.Parallel()

	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		writeJSON(t, w, http.StatusOK, map[string]any{"request_id": "req-1", "status_code": 200})
	})
	c.InstallationID = "install-abc"

	var resp BasicResponse
	err := c.Do(context.Background(), http.MethodPost, "/ping", map[string]string{"a": "b"}, &resp)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	user, pass, ok := got.BasicAuth()
	require.True(t, ok)
	require.Equal(t, "public-token-test", user)
	require.Equal(t, "public-token-test", pass)
	require.True(t, strings.HasPrefix(got.Header.Get("X-SDK-Request-ID"), "sdk-req-"))
	require.Equal(t, "install-abc", got.Header.Get(InstallationIDHeader))
	require.Equal(t, "application/json", got.Header.Get("Content-Type"))
}

func TestDo_NoPublicToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	c.PublicToken = ""

	err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	require.ErrorIs(t, err, ErrNoPublicToken)
	require.Zero(t, calls.Load())
}

func TestDo_DataEnvelope(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"data": map[string]any{"method_id": "phone-1"}})
	})

	resp, err := c.SendOTP(context.Background(), OTPSendRequest{PhoneNumber: "+61400000000"})
	require.NoError(t, err)
	require.Equal(t, "phone-1", resp.MethodID)
}

func TestDo_APIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantType string
	}{
		{
			name:     "typed error",
			status:   http.StatusUnauthorized,
			body:     `{"status_code":401,"error_type":"unauthorized_credentials","error_message":"nope","request_id":"srv-1"}`,
			wantType: ErrorTypeUnauthorizedCredentials,
		},
		{
			name:     "session not found",
			status:   http.StatusNotFound,
			body:     `{"error_type":"session_not_found","error_message":"gone"}`,
			wantType: ErrorTypeSessionNotFound,
		},
		{
			name:     "unparseable body",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantType: ErrorTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.AuthenticateSession(context.Background(), "opaque")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.wantType, apiErr.ErrorType())
			require.NotEmpty(t, apiErr.RequestID)
		})
	}
}

func TestDo_Limiter(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// One token, never refilled: the second call has to give up when the
	// context does.
	c.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/x", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Do(ctx, http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limiter")
}

func TestAuthenticateSession(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/authenticate", r.URL.Path)

		var req sessionTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "opaque-1", req.SessionToken)
		require.Equal(t, DefaultSessionDurationMinutes, req.SessionDurationMinutes)

		writeJSON(t, w, http.StatusOK, sessionBody("opaque-2"))
	})

	resp, err := c.AuthenticateSession(context.Background(), "opaque-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", resp.Session.SessionID)
	require.Equal(t, "user-1", resp.Session.UserID)
	require.NoError(t, resp.Session.Validate())

	tokens := resp.Tokens()
	require.Equal(t, "opaque-2", tokens.Opaque)
	require.Equal(t, "jwt-opaque-2", tokens.JWT)
}

func TestMagicLink(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/magic_links/email/login_or_create":
			var req MagicLinkSendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "challenge-1", req.CodeChallenge)
			writeJSON(t, w, http.StatusOK, map[string]any{"request_id": "req-1", "status_code": 200})
		case "/magic_links/authenticate":
			var req tokenAuthenticateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "link-token", req.Token)
			require.Equal(t, "verifier-1", req.CodeVerifier)
			writeJSON(t, w, http.StatusOK, sessionBody("opaque-1"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	ctx := context.Background()

	_, err := c.SendMagicLink(ctx, MagicLinkSendRequest{Email: "a@example.com"})
	require.Error(t, err, "a send without a challenge must not reach the server")

	_, err = c.SendMagicLink(ctx, MagicLinkSendRequest{Email: "a@example.com", CodeChallenge: "challenge-1"})
	require.NoError(t, err)

	resp, err := c.AuthenticateMagicLink(ctx, "link-token", "verifier-1")
	require.NoError(t, err)
	require.Equal(t, "opaque-1", resp.SessionToken)
}

func TestDiscoveryAndExchange(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/b2b/magic_links/discovery/authenticate":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"intermediate_session_token": "ist-1",
				"email_address":              "a@example.com",
				"discovered_organizations": []map[string]any{
					{"organization_id": "org-1", "organization_name": "Org", "is_member": true},
				},
			})
		case "/b2b/discovery/intermediate_sessions/exchange":
			var req intermediateExchangeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "ist-1", req.IntermediateSessionToken)
			require.Equal(t, "org-1", req.OrganizationID)
			writeJSON(t, w, http.StatusOK, map[string]any{
				"member_id":       "member-1",
				"organization_id": "org-1",
				"session_token":   "opaque-m",
				"session_jwt":     "jwt-m",
				"member_session": map[string]any{
					"session_id":       "msess-1",
					"member_id":        "member-1",
					"organization_id":  "org-1",
					"started_at":       now,
					"last_accessed_at": now,
					"expires_at":       now.Add(time.Hour),
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	ctx := context.Background()
	disc, err := c.AuthenticateDiscoveryMagicLink(ctx, "disc-token", "verifier")
	require.NoError(t, err)
	require.Equal(t, "ist-1", disc.IntermediateSessionToken)
	require.Len(t, disc.DiscoveredOrganizations, 1)

	resp, err := c.ExchangeIntermediateSession(ctx, disc.IntermediateSessionToken, "org-1")
	require.NoError(t, err)
	require.Equal(t, "msess-1", resp.MemberSession.SessionID)
	require.NoError(t, resp.MemberSession.Validate())
	require.Equal(t, "opaque-m", resp.Tokens().Opaque)
}

func TestStartURLs(t *testing.T) {
	t.Parallel()

	c := NewClient("https://api.example.com/", "pub-1")

	oauth := c.OAuthStartURL("google", "myapp://callback", "challenge-1")
	require.True(t, strings.HasPrefix(oauth, "https://api.example.com/public/oauth/google/start?"))
	require.Contains(t, oauth, "public_token=pub-1")
	require.Contains(t, oauth, "code_challenge=challenge-1")
	require.Contains(t, oauth, "login_redirect_url=myapp%3A%2F%2Fcallback")

	sso := c.SSOStartURL("conn-1", "", "challenge-2")
	require.True(t, strings.HasPrefix(sso, "https://api.example.com/public/sso/start?"))
	require.Contains(t, sso, "connection_id=conn-1")
	require.Contains(t, sso, "pkce_code_challenge=challenge-2")
	require.NotContains(t, sso, "login_redirect_url")
}

func TestParseCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		url       string
		wantToken string
		wantType  string
		wantErr   bool
	}{
		{
			name:      "oauth callback",
			url:       "myapp://callback?stytch_token_type=oauth&token=abc",
			wantToken: "abc",
			wantType:  TokenTypeOAuth,
		},
		{
			name:      "magic link callback",
			url:       "https://app.example.com/auth?token=xyz&stytch_token_type=magic_links",
			wantToken: "xyz",
			wantType:  TokenTypeMagicLinks,
		},
		{
			name:    "error response",
			url:     "myapp://callback?error=access_denied&error_description=cancelled",
			wantErr: true,
		},
		{
			name:    "missing token",
			url:     "myapp://callback?stytch_token_type=oauth",
			wantErr: true,
		},
		{
			name:    "missing type",
			url:     "myapp://callback?token=abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cb, err := ParseCallback(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantToken, cb.Token)
			require.Equal(t, tt.wantType, cb.TokenType)
		})
	}
}
