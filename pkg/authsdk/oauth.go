package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Token types carried in redirect callbacks.
const (
	TokenTypeMagicLinks            = "magic_links"
	TokenTypeOAuth                 = "oauth"
	TokenTypeSSO                   = "sso"
	TokenTypeDiscovery             = "discovery"
	TokenTypeDiscoveryOAuth        = "discovery_oauth"
	TokenTypeMultiTenantMagicLinks = "multi_tenant_magic_links"
)

// OAuthStartURL builds the URL that starts an OAuth login with provider
// (for example "google"). The browser is sent there; the provider redirects
// back to loginRedirect with a token.
//
// Example:
//
//	pair, _ := pkceManager.Generate(ctx, pkce.SlotConsumer)
//	u := client.OAuthStartURL("google", "myapp://callback", pair.Challenge)
func (c *Client) OAuthStartURL(provider, loginRedirect, codeChallenge string) string {
	params := url.Values{}
	params.Set("public_token", c.PublicToken)
	params.Set("code_challenge", codeChallenge)
	if loginRedirect != "" {
		params.Set("login_redirect_url", loginRedirect)
		params.Set("signup_redirect_url", loginRedirect)
	}

	return fmt.Sprintf("%s/public/oauth/%s/start?%s", c.BaseURL, url.PathEscape(provider), params.Encode())
}

// AuthenticateOAuth exchanges an OAuth callback token for a session.
func (c *Client) AuthenticateOAuth(ctx context.Context, token, codeVerifier string) (*AuthenticateResponse, error) {
	return c.authenticateToken(ctx, "/oauth/authenticate", token, codeVerifier)
}

// SSOStartURL builds the URL that starts an SSO login against connectionID.
func (c *Client) SSOStartURL(connectionID, loginRedirect, codeChallenge string) string {
	params := url.Values{}
	params.Set("connection_id", connectionID)
	params.Set("public_token", c.PublicToken)
	params.Set("pkce_code_challenge", codeChallenge)
	if loginRedirect != "" {
		params.Set("login_redirect_url", loginRedirect)
		params.Set("signup_redirect_url", loginRedirect)
	}

	return fmt.Sprintf("%s/public/sso/start?%s", c.BaseURL, params.Encode())
}

// AuthenticateSSO exchanges an SSO callback token for a member session.
func (c *Client) AuthenticateSSO(ctx context.Context, token, codeVerifier string) (*MemberAuthenticateResponse, error) {
	var resp MemberAuthenticateResponse
	req := ssoAuthenticateRequest{
		Token:                  token,
		CodeVerifier:           codeVerifier,
		SessionDurationMinutes: c.sessionDuration(),
	}
	if err := c.Do(ctx, http.MethodPost, "/b2b/sso/authenticate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Callback is the parsed result of a redirect back into the app.
type Callback struct {
	Token     string
	TokenType string
}

// ParseCallback parses the redirect URL the provider sent the browser to.
//
// Example:
//
//	cb, err := authsdk.ParseCallback("myapp://callback?stytch_token_type=oauth&token=abc")
//	if err != nil {
//	    // Handle error (e.g., user cancelled)
//	}
//	resp, err := client.AuthenticateOAuth(ctx, cb.Token, verifier)
func ParseCallback(callbackURL string) (*Callback, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse callback URL: %w", err)
	}

	query := u.Query()

	// Check for error response
	if errorCode := query.Get("error"); errorCode != "" {
		errorDesc := query.Get("error_description")
		return nil, fmt.Errorf("authorization error: %s - %s", errorCode, errorDesc)
	}

	token := query.Get("token")
	if token == "" {
		return nil, fmt.Errorf("callback missing token")
	}

	tokenType := query.Get("stytch_token_type")
	if tokenType == "" {
		return nil, fmt.Errorf("callback missing token type")
	}

	return &Callback{Token: token, TokenType: tokenType}, nil
}
