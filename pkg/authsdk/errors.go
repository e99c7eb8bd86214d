package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error types returned by the provider that the SDK itself reacts to. The
// list is not exhaustive; APIError.Type carries whatever was sent.
const (
	ErrorTypeUnauthorizedCredentials     = "unauthorized_credentials"
	ErrorTypeUserUnauthenticated         = "user_unauthenticated"
	ErrorTypeInvalidSecretAuthentication = "invalid_secret_authentication"
	ErrorTypeSessionNotFound             = "session_not_found"
	ErrorTypeUserNotFound                = "user_not_found"
	ErrorTypeTooManyRequests             = "too_many_requests"
	ErrorTypePKCEMismatch                = "pkce_mismatch"
	ErrorTypeInvalidToken                = "invalid_token"
	ErrorTypeIntermediateSessionNotFound = "intermediate_session_not_found"

	// ErrorTypeUnknown is used when the body could not be parsed.
	ErrorTypeUnknown = "unknown_error"
)

// APIError is a non-2xx response from the provider.
type APIError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"status_code"`

	// Type is the provider's machine readable error kind
	Type string `json:"error_type"`

	// ErrorMessage is a human-readable description of the error
	ErrorMessage string `json:"error_message"`

	RequestID string `json:"request_id"`

	// ErrorURL points at the provider's documentation for this error
	ErrorURL string `json:"error_url,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.ErrorMessage)
}

// ErrorType returns the provider error type. poller.Table classifies errors
// through it.
func (e *APIError) ErrorType() string { return e.Type }

// parseErrorResponse turns a non-2xx response into an *APIError. It returns
// nil for 2xx responses.
func parseErrorResponse(resp *http.Response, body []byte, reqID string) error {
	// Success responses
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Type != "" {
		apiErr.StatusCode = resp.StatusCode
		if apiErr.RequestID == "" {
			apiErr.RequestID = reqID
		}
		return &apiErr
	}

	// Fallback: create generic error from status code
	return &APIError{
		StatusCode:   resp.StatusCode,
		Type:         ErrorTypeUnknown,
		ErrorMessage: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		RequestID:    reqID,
	}
}
