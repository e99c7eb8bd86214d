package authkit

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/pkce"
)

// ============================================================================
// Magic links
// ============================================================================

// SendMagicLink starts an email magic link flow. A new PKCE pair replaces
// any pending consumer pair.
func (c *Client) SendMagicLink(ctx context.Context, email, redirectURL string) (*authsdk.BasicResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	pair, err := c.pkce.Generate(ctx, pkce.SlotConsumer)
	if err != nil {
		return nil, err
	}

	return api.SendMagicLink(ctx, authsdk.MagicLinkSendRequest{
		Email:              email,
		LoginMagicLinkURL:  redirectURL,
		SignupMagicLinkURL: redirectURL,
		CodeChallenge:      pair.Challenge,
	})
}

// AuthenticateMagicLink completes a magic link flow on the same device that
// started it.
func (c *Client) AuthenticateMagicLink(ctx context.Context, token string) (*authsdk.AuthenticateResponse, error) {
	return c.authenticateWithPKCE(ctx, token, func(api *authsdk.Client, verifier string) (*authsdk.AuthenticateResponse, error) {
		return api.AuthenticateMagicLink(ctx, token, verifier)
	})
}

// ============================================================================
// OAuth
// ============================================================================

// OAuthStartURL generates a consumer PKCE pair and returns the URL to send
// the browser to.
func (c *Client) OAuthStartURL(ctx context.Context, provider, redirectURL string) (string, error) {
	api, err := c.API()
	if err != nil {
		return "", err
	}

	pair, err := c.pkce.Generate(ctx, pkce.SlotConsumer)
	if err != nil {
		return "", err
	}
	return api.OAuthStartURL(provider, redirectURL, pair.Challenge), nil
}

func (c *Client) AuthenticateOAuth(ctx context.Context, token string) (*authsdk.AuthenticateResponse, error) {
	return c.authenticateWithPKCE(ctx, token, func(api *authsdk.Client, verifier string) (*authsdk.AuthenticateResponse, error) {
		return api.AuthenticateOAuth(ctx, token, verifier)
	})
}

// authenticateWithPKCE runs a consumer authenticate call that proves
// possession of the pending PKCE verifier. The pair is cleared only once the
// call succeeds, so a failed attempt can be retried.
func (c *Client) authenticateWithPKCE(
	ctx context.Context,
	token string,
	call func(api *authsdk.Client, verifier string) (*authsdk.AuthenticateResponse, error),
) (*authsdk.AuthenticateResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	pair, err := c.pkce.Require(ctx, pkce.SlotConsumer)
	if err != nil {
		return nil, err
	}

	resp, err := call(api, pair.Verifier)
	if err != nil {
		return nil, err
	}

	if err := c.pkce.Clear(ctx, pkce.SlotConsumer); err != nil {
		return nil, err
	}
	return resp, c.consumer.UpdateSession(ctx, resp.Session, resp.Tokens())
}

// ============================================================================
// SSO
// ============================================================================

// SSOStartURL generates a B2B PKCE pair and returns the URL that starts SSO
// against connectionID.
func (c *Client) SSOStartURL(ctx context.Context, connectionID, redirectURL string) (string, error) {
	api, err := c.API()
	if err != nil {
		return "", err
	}

	pair, err := c.pkce.Generate(ctx, pkce.SlotB2B)
	if err != nil {
		return "", err
	}
	return api.SSOStartURL(connectionID, redirectURL, pair.Challenge), nil
}

// AuthenticateSSO completes SSO and stores the member session.
func (c *Client) AuthenticateSSO(ctx context.Context, token string) (*authsdk.MemberAuthenticateResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	pair, err := c.pkce.Require(ctx, pkce.SlotB2B)
	if err != nil {
		return nil, err
	}

	resp, err := api.AuthenticateSSO(ctx, token, pair.Verifier)
	if err != nil {
		return nil, err
	}

	if err := c.pkce.Clear(ctx, pkce.SlotB2B); err != nil {
		return nil, err
	}
	return resp, c.member.UpdateSession(ctx, resp.MemberSession, resp.Tokens())
}

// ============================================================================
// Passwords, OTP, TOTP
// ============================================================================

func (c *Client) AuthenticatePassword(ctx context.Context, email, password string) (*authsdk.AuthenticateResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	resp, err := api.AuthenticatePassword(ctx, authsdk.PasswordAuthenticateRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return resp, c.consumer.UpdateSession(ctx, resp.Session, resp.Tokens())
}

// SendOTP texts a passcode to phone. Pass the returned method id to
// AuthenticateOTP.
func (c *Client) SendOTP(ctx context.Context, phone string) (*authsdk.OTPSendResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	return api.SendOTP(ctx, authsdk.OTPSendRequest{PhoneNumber: phone})
}

func (c *Client) AuthenticateOTP(ctx context.Context, methodID, code string) (*authsdk.AuthenticateResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	resp, err := api.AuthenticateOTP(ctx, methodID, code)
	if err != nil {
		return nil, err
	}
	return resp, c.consumer.UpdateSession(ctx, resp.Session, resp.Tokens())
}

// CreateTOTP registers a TOTP secret for userID. Render it for the user with
// the response's QRCode method.
func (c *Client) CreateTOTP(ctx context.Context, userID string) (*authsdk.TOTPCreateResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	return api.CreateTOTP(ctx, userID)
}

func (c *Client) AuthenticateTOTP(ctx context.Context, userID, code string) (*authsdk.AuthenticateResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	resp, err := api.AuthenticateTOTP(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	return resp, c.consumer.UpdateSession(ctx, resp.Session, resp.Tokens())
}

// ============================================================================
// Discovery
// ============================================================================

// AuthenticateDiscovery authenticates a discovery magic link token. The
// member slot moves to the intermediate state, replacing any member session.
func (c *Client) AuthenticateDiscovery(ctx context.Context, token string) (*authsdk.DiscoveryResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	pair, err := c.pkce.Require(ctx, pkce.SlotB2B)
	if err != nil {
		return nil, err
	}

	resp, err := api.AuthenticateDiscoveryMagicLink(ctx, token, pair.Verifier)
	if err != nil {
		return nil, err
	}

	if err := c.pkce.Clear(ctx, pkce.SlotB2B); err != nil {
		return nil, err
	}
	if err := c.member.UpdateIntermediate(ctx, resp.IntermediateSessionToken); err != nil {
		return nil, fmt.Errorf("storing intermediate session: %w", err)
	}
	return resp, nil
}

// ExchangeIntermediate trades the stored intermediate session token for a
// member session in organizationID.
func (c *Client) ExchangeIntermediate(ctx context.Context, organizationID string) (*authsdk.MemberAuthenticateResponse, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	ist, err := c.member.IntermediateToken(ctx)
	if err != nil {
		return nil, err
	}
	if ist == "" {
		return nil, ErrNoIntermediateSession
	}

	resp, err := api.ExchangeIntermediateSession(ctx, ist, organizationID)
	if err != nil {
		return nil, err
	}
	return resp, c.member.UpdateSession(ctx, resp.MemberSession, resp.Tokens())
}
