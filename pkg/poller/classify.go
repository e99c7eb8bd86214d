package poller

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
)

// Class says what a failed refresh means for the stored session.
type Class int

const (
	// Recoverable failures leave the session alone and are retried.
	Recoverable Class = iota
	// Unrecoverable failures mean the credential itself is dead.
	Unrecoverable
)

func (c Class) String() string {
	if c == Unrecoverable {
		return "unrecoverable"
	}
	return "recoverable"
}

// Table maps API error types to a Class. Types not in the table are
// Recoverable.
type Table map[string]Class

// DefaultTable is the classification used unless Config.Table overrides it.
// Only error types that mean the session credential is dead are
// Unrecoverable.
func DefaultTable() Table {
	return Table{
		authsdk.ErrorTypeUnauthorizedCredentials:     Unrecoverable,
		authsdk.ErrorTypeUserUnauthenticated:         Unrecoverable,
		authsdk.ErrorTypeInvalidSecretAuthentication: Unrecoverable,
		authsdk.ErrorTypeSessionNotFound:             Unrecoverable,

		// Neither says anything about the session credential.
		authsdk.ErrorTypeUserNotFound:    Recoverable,
		authsdk.ErrorTypeTooManyRequests: Recoverable,
	}
}

// typedError is implemented by API errors that carry a provider error type.
type typedError interface {
	ErrorType() string
}

// Classify looks err up in the table. Cancellation, transport failures and
// untyped errors are Recoverable.
func (t Table) Classify(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Recoverable
	}

	var te typedError
	if errors.As(err, &te) {
		if class, ok := t[te.ErrorType()]; ok {
			return class
		}
	}
	return Recoverable
}
