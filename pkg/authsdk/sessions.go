package authsdk

import (
	"context"
	"net/http"
)

// AuthenticateSession re-authenticates a consumer session token and returns
// the refreshed session with a new JWT.
func (c *Client) AuthenticateSession(ctx context.Context, sessionToken string) (*AuthenticateResponse, error) {
	var resp AuthenticateResponse
	req := sessionTokenRequest{SessionToken: sessionToken, SessionDurationMinutes: c.sessionDuration()}
	if err := c.Do(ctx, http.MethodPost, "/sessions/authenticate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeSession revokes a consumer session server side.
func (c *Client) RevokeSession(ctx context.Context, sessionToken string) error {
	return c.Do(ctx, http.MethodPost, "/sessions/revoke", sessionTokenRequest{SessionToken: sessionToken}, nil)
}

// AuthenticateMemberSession is AuthenticateSession for organization members.
func (c *Client) AuthenticateMemberSession(ctx context.Context, sessionToken string) (*MemberAuthenticateResponse, error) {
	var resp MemberAuthenticateResponse
	req := sessionTokenRequest{SessionToken: sessionToken, SessionDurationMinutes: c.sessionDuration()}
	if err := c.Do(ctx, http.MethodPost, "/b2b/sessions/authenticate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RevokeMemberSession(ctx context.Context, sessionToken string) error {
	return c.Do(ctx, http.MethodPost, "/b2b/sessions/revoke", sessionTokenRequest{SessionToken: sessionToken}, nil)
}
