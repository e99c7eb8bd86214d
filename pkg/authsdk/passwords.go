package authsdk

import (
	"context"
	"net/http"
)

// AuthenticatePassword logs in with an email and password.
func (c *Client) AuthenticatePassword(ctx context.Context, req PasswordAuthenticateRequest) (*AuthenticateResponse, error) {
	if req.SessionDurationMinutes == 0 {
		req.SessionDurationMinutes = c.sessionDuration()
	}

	var resp AuthenticateResponse
	if err := c.Do(ctx, http.MethodPost, "/passwords/authenticate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
