package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
)

// Builtin returns the SDK's migrations in release order. New migrations are
// appended; existing entries are never reordered or renamed.
func Builtin() []Migration {
	return []Migration{
		{Name: "legacy_token_names", Run: migrateLegacyTokenNames},
		{Name: "reapply_access_policy", Run: reapplyAccessPolicy},
		{Name: "intermediate_token_timestamp", Run: dropUntimedIntermediateToken},
	}
}

// Items written by releases that predate scoped names. They all belonged to
// the consumer slot.
var (
	LegacySessionToken      = keychain.Item{Name: "stytch_session_token", Kind: keychain.KindToken}
	LegacySessionJWT        = keychain.Item{Name: "stytch_session_jwt", Kind: keychain.KindToken}
	LegacySession           = keychain.Item{Name: "stytch_session", Kind: keychain.KindObject}
	LegacyIntermediateToken = keychain.Item{Name: "stytch_intermediate_session_token", Kind: keychain.KindToken}
)

func migrateLegacyTokenNames(ctx context.Context, store *keychain.Store) error {
	scope := keychain.ScopeConsumer
	moves := []struct {
		from, to keychain.Item
		convert  func([]byte) ([]byte, error)
	}{
		{LegacySession, keychain.SessionObject(scope), wrapLegacySession},
		{LegacySessionToken, keychain.OpaqueToken(scope), nil},
		{LegacySessionJWT, keychain.JWT(scope), nil},
		{LegacyIntermediateToken, keychain.IntermediateToken(scope), nil},
	}

	for _, m := range moves {
		data, err := store.Data(ctx, m.from)
		if errors.Is(err, keychain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		exists, err := store.Exists(ctx, m.to)
		if err != nil {
			return err
		}
		if !exists {
			if m.convert != nil {
				if data, err = m.convert(data); err != nil {
					return &keychain.DecodeError{Item: m.from.Name, Err: err}
				}
			}
			if err := store.Set(ctx, data, m.to); err != nil {
				return err
			}
		}

		// Removing last means a crash before this point repeats the copy,
		// which the exists check turns into a no-op.
		if err := store.Remove(ctx, m.from); err != nil {
			return err
		}
	}
	return nil
}

// wrapLegacySession puts a bare session object into the current envelope. The
// old layout had no validation time, so the session is treated as validated
// at its last access.
func wrapLegacySession(raw []byte) ([]byte, error) {
	var probe struct {
		LastAccessedAt time.Time `json:"last_accessed_at"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	return json.Marshal(session.Envelope[json.RawMessage]{
		Session:         json.RawMessage(raw),
		LastValidatedAt: probe.LastAccessedAt,
	})
}

func reapplyAccessPolicy(ctx context.Context, store *keychain.Store) error {
	for _, item := range keychain.All() {
		if _, err := store.Reprotect(ctx, item); err != nil {
			return fmt.Errorf("reprotecting %s: %w", item.Name, err)
		}
	}
	return nil
}

// dropUntimedIntermediateToken removes intermediate tokens that have no
// validated_at entry. They cannot be aged and would otherwise never expire.
func dropUntimedIntermediateToken(ctx context.Context, store *keychain.Store) error {
	for _, scope := range []string{keychain.ScopeConsumer, keychain.ScopeMember} {
		ist := keychain.IntermediateToken(scope)

		hasToken, err := store.Exists(ctx, ist)
		if err != nil {
			return err
		}
		if !hasToken {
			continue
		}

		hasTime, err := store.Exists(ctx, keychain.IntermediateValidatedAt(scope))
		if err != nil {
			return err
		}
		if !hasTime {
			if err := store.Remove(ctx, ist); err != nil {
				return err
			}
		}
	}
	return nil
}
