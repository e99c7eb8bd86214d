package authsdk

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"net/url"

	"github.com/pquerna/otp"
)

// TOTPCreateResponse is a new, not yet verified, TOTP registration.
type TOTPCreateResponse struct {
	RequestID     string   `json:"request_id"`
	TOTPID        string   `json:"totp_id"`
	UserID        string   `json:"user_id"`
	Secret        string   `json:"secret"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// Key returns the registration as an otp.Key for authenticator apps.
// issuer and account are shown to the user in the app.
func (r *TOTPCreateResponse) Key(issuer, account string) (*otp.Key, error) {
	params := url.Values{}
	params.Set("secret", r.Secret)
	params.Set("issuer", issuer)
	params.Set("algorithm", otp.AlgorithmSHA1.String())
	params.Set("digits", otp.DigitsSix.String())
	params.Set("period", "30")

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: params.Encode(),
	}
	key, err := otp.NewKeyFromURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to build TOTP key: %w", err)
	}
	return key, nil
}

// QRCode renders the registration as a size x size PNG.
func (r *TOTPCreateResponse) QRCode(issuer, account string, size int) ([]byte, error) {
	key, err := r.Key(issuer, account)
	if err != nil {
		return nil, err
	}

	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return buf.Bytes(), nil
}

type totpCreateRequest struct {
	UserID            string `json:"user_id"`
	ExpirationMinutes int    `json:"expiration_minutes,omitempty"`
}

type totpAuthenticateRequest struct {
	UserID                 string `json:"user_id"`
	Code                   string `json:"totp_code"`
	SessionDurationMinutes int    `json:"session_duration_minutes"`
}

// CreateTOTP registers a new TOTP secret for userID.
func (c *Client) CreateTOTP(ctx context.Context, userID string) (*TOTPCreateResponse, error) {
	var resp TOTPCreateResponse
	if err := c.Do(ctx, http.MethodPost, "/totps", totpCreateRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthenticateTOTP authenticates a code from the user's authenticator app.
func (c *Client) AuthenticateTOTP(ctx context.Context, userID, code string) (*AuthenticateResponse, error) {
	var resp AuthenticateResponse
	req := totpAuthenticateRequest{UserID: userID, Code: code, SessionDurationMinutes: c.sessionDuration()}
	if err := c.Do(ctx, http.MethodPost, "/totps/authenticate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
