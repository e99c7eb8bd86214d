package authsdk

import (
	"context"
	"errors"
	"net/http"
)

// SendMagicLink emails a login or signup link. The challenge of a fresh PKCE
// pair must be set on req.
func (c *Client) SendMagicLink(ctx context.Context, req MagicLinkSendRequest) (*BasicResponse, error) {
	if req.CodeChallenge == "" {
		return nil, errors.New("authsdk: magic link requires a code challenge")
	}

	var resp BasicResponse
	if err := c.Do(ctx, http.MethodPost, "/magic_links/email/login_or_create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthenticateMagicLink exchanges the token from the link for a session.
func (c *Client) AuthenticateMagicLink(ctx context.Context, token, codeVerifier string) (*AuthenticateResponse, error) {
	return c.authenticateToken(ctx, "/magic_links/authenticate", token, codeVerifier)
}

func (c *Client) authenticateToken(ctx context.Context, path, token, codeVerifier string) (*AuthenticateResponse, error) {
	var resp AuthenticateResponse
	req := tokenAuthenticateRequest{
		Token:                  token,
		CodeVerifier:           codeVerifier,
		SessionDurationMinutes: c.sessionDuration(),
	}
	if err := c.Do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
