package authsdk

import (
	"context"
	"net/http"
)

// SendOTP texts a one-time passcode. The returned method id is needed to
// authenticate the code.
func (c *Client) SendOTP(ctx context.Context, req OTPSendRequest) (*OTPSendResponse, error) {
	var resp OTPSendResponse
	if err := c.Do(ctx, http.MethodPost, "/otps/sms/login_or_create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AuthenticateOTP(ctx context.Context, methodID, code string) (*AuthenticateResponse, error) {
	var resp AuthenticateResponse
	req := otpAuthenticateRequest{
		MethodID:               methodID,
		Code:                   code,
		SessionDurationMinutes: c.sessionDuration(),
	}
	if err := c.Do(ctx, http.MethodPost, "/otps/authenticate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
