package authsdk

import (
	"context"
	"net/http"
)

// AuthenticateDiscoveryMagicLink authenticates a discovery magic link. The
// result is an intermediate session token, not a session: the member still
// has to pick an organization.
func (c *Client) AuthenticateDiscoveryMagicLink(ctx context.Context, token, codeVerifier string) (*DiscoveryResponse, error) {
	var resp DiscoveryResponse
	req := discoveryAuthenticateRequest{Token: token, CodeVerifier: codeVerifier}
	if err := c.Do(ctx, http.MethodPost, "/b2b/magic_links/discovery/authenticate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangeIntermediateSession trades an intermediate session token for a
// member session in organizationID.
func (c *Client) ExchangeIntermediateSession(ctx context.Context, ist, organizationID string) (*MemberAuthenticateResponse, error) {
	var resp MemberAuthenticateResponse
	req := intermediateExchangeRequest{
		IntermediateSessionToken: ist,
		OrganizationID:           organizationID,
		SessionDurationMinutes:   c.sessionDuration(),
	}
	if err := c.Do(ctx, http.MethodPost, "/b2b/discovery/intermediate_sessions/exchange", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
