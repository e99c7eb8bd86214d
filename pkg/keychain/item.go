package keychain

import "fmt"

// Kind classifies what an item holds.
type Kind int

const (
	KindToken Kind = iota
	KindObject
	KindPrivateKey
	KindRegistration
)

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindObject:
		return "object"
	case KindPrivateKey:
		return "private_key"
	case KindRegistration:
		return "registration"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AccountKeyed reports whether items of this kind hold one entry per account.
func (k Kind) AccountKeyed() bool {
	return k == KindPrivateKey || k == KindRegistration
}

// Policy is the access capability required to read or write an item. It is
// translated to platform behaviour only at the Store boundary.
type Policy int

const (
	// PolicyNone never prompts.
	PolicyNone Policy = iota
	// PolicyDeviceOwner requires device owner authentication (passcode or biometrics).
	PolicyDeviceOwner
	// PolicyBiometric requires biometric presence.
	PolicyBiometric
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyDeviceOwner:
		return "device_owner"
	case PolicyBiometric:
		return "biometric"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Item describes a named slot in the secret store. The policy is fixed per
// item and applied on every write.
type Item struct {
	Name   string
	Kind   Kind
	Policy Policy

	// Account sub-keys items that can hold several entries, such as per-user
	// registrations. Empty on a query means every account.
	Account string
}

// WithAccount returns a copy of the item scoped to account.
func (i Item) WithAccount(account string) Item {
	i.Account = account
	return i
}

func (i Item) String() string {
	if i.Account == "" {
		return i.Name
	}
	return i.Name + "[" + i.Account + "]"
}

// Scopes used to namespace per-principal items. The session and pkce
// packages map their slots onto these.
const (
	ScopeConsumer = "consumer"
	ScopeMember   = "member"
	ScopeB2B      = "b2b"
)

const prefix = "sessionkit."

func scoped(scope, name string) string {
	return prefix + scope + "." + name
}

func SessionObject(scope string) Item {
	return Item{Name: scoped(scope, "session"), Kind: KindObject}
}

func OpaqueToken(scope string) Item {
	return Item{Name: scoped(scope, "session_token"), Kind: KindToken}
}

func JWT(scope string) Item {
	return Item{Name: scoped(scope, "session_jwt"), Kind: KindToken}
}

func IntermediateToken(scope string) Item {
	return Item{Name: scoped(scope, "intermediate_session_token"), Kind: KindToken}
}

// IntermediateValidatedAt holds the RFC3339 time the intermediate token was
// last written. The underlying store has no expiry of its own.
func IntermediateValidatedAt(scope string) Item {
	return Item{Name: scoped(scope, "intermediate_session_token.validated_at"), Kind: KindObject}
}

func PKCEVerifier(scope string) Item {
	return Item{Name: scoped(scope, "pkce_verifier"), Kind: KindToken}
}

var (
	PublicTokenFingerprint = Item{Name: prefix + "public_token_fingerprint", Kind: KindObject}
	InstallationID         = Item{Name: prefix + "installation_id", Kind: KindObject}
)

// PrivateKeyRegistration stores a device private key for account. Reading it
// requires device owner authentication.
func PrivateKeyRegistration(account string) Item {
	return Item{
		Name:    prefix + "private_key_registration",
		Kind:    KindPrivateKey,
		Policy:  PolicyDeviceOwner,
		Account: account,
	}
}

// BiometricRegistration stores a biometric registration for account and is
// gated on biometric presence.
func BiometricRegistration(account string) Item {
	return Item{
		Name:    prefix + "biometric_registration",
		Kind:    KindRegistration,
		Policy:  PolicyBiometric,
		Account: account,
	}
}

// MigrationFlag marks a migration as complete. Flags are deliberately absent
// from All so a store reset does not re-run migrations.
func MigrationFlag(name string) Item {
	return Item{Name: prefix + "migration." + name, Kind: KindObject}
}

// All enumerates every registry item, so that store-wide operations cannot
// miss one. Account-keyed items are returned without an account, which
// matches all of their entries.
func All() []Item {
	items := make([]Item, 0, 16)
	for _, scope := range []string{ScopeConsumer, ScopeMember} {
		items = append(items,
			SessionObject(scope),
			OpaqueToken(scope),
			JWT(scope),
			IntermediateToken(scope),
			IntermediateValidatedAt(scope),
		)
	}
	for _, scope := range []string{ScopeConsumer, ScopeB2B} {
		items = append(items, PKCEVerifier(scope))
	}
	return append(items,
		PublicTokenFingerprint,
		InstallationID,
		PrivateKeyRegistration(""),
		BiometricRegistration(""),
	)
}
