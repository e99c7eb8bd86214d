/*
Package authsdk is the HTTP transport and endpoint layer for the auth
provider's client-side SDK API.

# Client

A Client authenticates every call with the project's public token and tags
it with a request id:

	client := authsdk.NewClient("https://api.example.com/sdk/v1", publicToken)
	resp, err := client.AuthenticatePassword(ctx, authsdk.PasswordAuthenticateRequest{
		Email:    "ada@example.com",
		Password: "correct horse battery staple",
	})

Do is the single request path. It waits on the optional rate limiter, sends
JSON, and unwraps the provider's {"data": ...} envelope.

# Errors

Non-2xx responses become *APIError. The provider's error_type is exposed
through the ErrorType method, so callers can classify failures without
importing this package:

	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Type == authsdk.ErrorTypeUnauthorizedCredentials {
		// the session credential is dead
	}

# Sessions

Every authenticate endpoint returns the provider's session object decoded
straight into session.UserSession or session.MemberSession, plus the token
pair. Nothing here stores anything; persistence is the session package's job.
*/
package authsdk
