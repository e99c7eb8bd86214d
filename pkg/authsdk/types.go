package authsdk

import (
	"github.com/aussiebroadwan/sessionkit/pkg/session"
)

// ============================================================================
// Session Responses
// ============================================================================

// AuthenticateResponse is returned by every consumer call that yields a
// session.
type AuthenticateResponse struct {
	RequestID    string              `json:"request_id"`
	UserID       string              `json:"user_id"`
	SessionToken string              `json:"session_token"`
	SessionJWT   string              `json:"session_jwt"`
	Session      session.UserSession `json:"session"`
}

// Tokens returns the token pair for session.Store.UpdateSession.
func (r *AuthenticateResponse) Tokens() session.Tokens {
	return session.Tokens{Opaque: r.SessionToken, JWT: r.SessionJWT}
}

// MemberAuthenticateResponse is returned by every B2B call that yields a
// member session.
type MemberAuthenticateResponse struct {
	RequestID      string                `json:"request_id"`
	MemberID       string                `json:"member_id"`
	OrganizationID string                `json:"organization_id"`
	SessionToken   string                `json:"session_token"`
	SessionJWT     string                `json:"session_jwt"`
	MemberSession  session.MemberSession `json:"member_session"`
}

func (r *MemberAuthenticateResponse) Tokens() session.Tokens {
	return session.Tokens{Opaque: r.SessionToken, JWT: r.SessionJWT}
}

// BasicResponse is returned by calls that only acknowledge.
type BasicResponse struct {
	RequestID  string `json:"request_id"`
	StatusCode int    `json:"status_code"`
}

// ============================================================================
// Requests
// ============================================================================

type sessionTokenRequest struct {
	SessionToken           string `json:"session_token"`
	SessionDurationMinutes int    `json:"session_duration_minutes,omitempty"`
}

// MagicLinkSendRequest starts an email magic link flow.
type MagicLinkSendRequest struct {
	Email              string `json:"email"`
	LoginMagicLinkURL  string `json:"login_magic_link_url,omitempty"`
	SignupMagicLinkURL string `json:"signup_magic_link_url,omitempty"`

	// CodeChallenge is filled in by the caller from a pkce.CodePair
	CodeChallenge string `json:"code_challenge"`
}

type tokenAuthenticateRequest struct {
	Token                  string `json:"token"`
	CodeVerifier           string `json:"code_verifier,omitempty"`
	SessionDurationMinutes int    `json:"session_duration_minutes"`
}

// PasswordAuthenticateRequest logs in with an email and password.
type PasswordAuthenticateRequest struct {
	Email                  string `json:"email"`
	Password               string `json:"password"`
	SessionDurationMinutes int    `json:"session_duration_minutes"`
}

// ============================================================================
// OTP
// ============================================================================

// OTPSendRequest sends a one-time passcode by SMS.
type OTPSendRequest struct {
	PhoneNumber       string `json:"phone_number"`
	ExpirationMinutes int    `json:"expiration_minutes,omitempty"`
}

// OTPSendResponse identifies the passcode that was sent.
type OTPSendResponse struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	MethodID  string `json:"method_id"`
}

type otpAuthenticateRequest struct {
	MethodID               string `json:"method_id"`
	Code                   string `json:"token"`
	SessionDurationMinutes int    `json:"session_duration_minutes"`
}

// ============================================================================
// Discovery
// ============================================================================

// DiscoveredOrganization is one organization the member may join.
type DiscoveredOrganization struct {
	OrganizationID   string `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
	OrganizationSlug string `json:"organization_slug"`
	IsMember         bool   `json:"is_member"`
}

// DiscoveryResponse carries the intermediate session token of a discovery
// flow.
type DiscoveryResponse struct {
	RequestID                string                   `json:"request_id"`
	IntermediateSessionToken string                   `json:"intermediate_session_token"`
	EmailAddress             string                   `json:"email_address"`
	DiscoveredOrganizations  []DiscoveredOrganization `json:"discovered_organizations"`
}

type discoveryAuthenticateRequest struct {
	Token        string `json:"discovery_magic_links_token"`
	CodeVerifier string `json:"pkce_code_verifier"`
}

type intermediateExchangeRequest struct {
	IntermediateSessionToken string `json:"intermediate_session_token"`
	OrganizationID           string `json:"organization_id"`
	SessionDurationMinutes   int    `json:"session_duration_minutes"`
}

type ssoAuthenticateRequest struct {
	Token                  string `json:"sso_token"`
	CodeVerifier           string `json:"pkce_code_verifier"`
	SessionDurationMinutes int    `json:"session_duration_minutes"`
}
