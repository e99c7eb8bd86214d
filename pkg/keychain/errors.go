package keychain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-value accessors when the item is absent.
var ErrNotFound = errors.New("keychain: item not found")

// ErrAccountRequired is returned when writing an account-keyed item without
// naming the account.
var ErrAccountRequired = errors.New("keychain: account required")

// ErrPresenceUnavailable is returned by the default prompter: without a
// platform integration there is no way to confirm user presence.
var ErrPresenceUnavailable = errors.New("keychain: user presence check unavailable")

// Status is the failure class attached to a StoreError.
type Status int

const (
	// StatusIO is a failure of the backing engine.
	StatusIO Status = iota + 1
	// StatusAuthFailed means the access-policy prompt was declined or failed.
	StatusAuthFailed
	// StatusCorrupt means the stored bytes could not be unsealed.
	StatusCorrupt
	// StatusSeal means the value could not be sealed for writing.
	StatusSeal
)

func (s Status) String() string {
	switch s {
	case StatusIO:
		return "io"
	case StatusAuthFailed:
		return "auth_failed"
	case StatusCorrupt:
		return "corrupt"
	case StatusSeal:
		return "seal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StoreError is a secret store operation failure. It is not retryable.
type StoreError struct {
	Op     string
	Item   string
	Status Status
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("keychain: %s %s: %s: %v", e.Op, e.Item, e.Status, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DecodeError reports stored data that is missing an expected field or is
// otherwise malformed.
type DecodeError struct {
	Item  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("keychain: decode %s: field %q: %v", e.Item, e.Field, e.Err)
	}
	return fmt.Sprintf("keychain: decode %s: %v", e.Item, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func storeErr(op string, item Item, status Status, err error) error {
	return &StoreError{Op: op, Item: item.String(), Status: status, Err: err}
}
