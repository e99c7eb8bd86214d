package keychain

import "context"

// Prompter confirms user presence before a protected item is touched. It is
// never consulted for PolicyNone items.
type Prompter interface {
	Authenticate(ctx context.Context, policy Policy, reason string) error
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, policy Policy, reason string) error

func (f PrompterFunc) Authenticate(ctx context.Context, policy Policy, reason string) error {
	return f(ctx, policy, reason)
}

// denyPrompter is used when no platform integration is supplied.
type denyPrompter struct{}

func (denyPrompter) Authenticate(context.Context, Policy, string) error {
	return ErrPresenceUnavailable
}
