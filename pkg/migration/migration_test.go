package migration_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain/drivers/memory"
	"github.com/aussiebroadwan/sessionkit/pkg/migration"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*keychain.Store, *memory.Driver) {
	t.Helper()
	d := memory.New()
	allow := keychain.PrompterFunc(func(context.Context, keychain.Policy, string) error { return nil })
	return keychain.New(d, keychain.Options{Prompter: allow}), d
}

// snapshot dumps every record the driver holds, ignoring timestamps.
func snapshot(t *testing.T, d *memory.Driver, names ...string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, name := range names {
		records, err := d.Query(context.Background(), keychain.Query{Name: name})
		require.NoError(t, err)
		for _, r := range records {
			out[r.Name+"/"+r.Account] = string(r.Data) + "|" + r.Policy.String()
		}
	}
	return out
}

func TestChainRunsInOrderOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newStore(t)

	var order []string
	record := func(name string) migration.Migration {
		return migration.Migration{Name: name, Run: func(context.Context, *keychain.Store) error {
			order = append(order, name)
			return nil
		}}
	}

	chain := migration.NewChain(nil, record("first"), record("second"), record("third"))
	require.Equal(t, []string{"first", "second", "third"}, chain.Names())

	ran, err := chain.Run(ctx, store)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "third"}, ran)
	require.Equal(t, []string{"first", "second", "third"}, order)

	// Second run is a no-op, every flag is set
	ran, err = chain.Run(ctx, store)
	require.NoError(t, err)
	require.Empty(t, ran)
	require.Len(t, order, 3)

	status, err := chain.Status(ctx, store)
	require.NoError(t, err)
	for name, at := range status {
		require.False(t, at.IsZero(), name)
	}
}

func TestChainStopsOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newStore(t)

	boom := errors.New("boom")
	var thirdRan bool
	chain := migration.NewChain(nil,
		migration.Migration{Name: "ok", Run: func(context.Context, *keychain.Store) error { return nil }},
		migration.Migration{Name: "broken", Run: func(context.Context, *keychain.Store) error { return boom }},
		migration.Migration{Name: "later", Run: func(context.Context, *keychain.Store) error {
			thirdRan = true
			return nil
		}},
	)

	ran, err := chain.Run(ctx, store)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"ok"}, ran)
	require.False(t, thirdRan)

	var merr *migration.Error
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "broken", merr.Name)

	// The failed migration is not marked, so it runs again next time
	ok, err := store.Exists(ctx, keychain.MigrationFlag("broken"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuiltinOnFreshStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, d := newStore(t)

	chain := migration.NewChain(nil, migration.Builtin()...)
	ran, err := chain.Run(ctx, store)
	require.NoError(t, err)

	// Nothing to migrate, but every flag is still recorded
	require.Equal(t, chain.Names(), ran)
	require.Equal(t, len(migration.Builtin()), d.Len())
}

func TestLegacyTokenNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newStore(t)

	legacySession := `{"session_id":"sess-legacy","user_id":"user-1","started_at":"2025-01-01T00:00:00Z","last_accessed_at":"2025-01-02T00:00:00Z","expires_at":"2099-01-01T00:00:00Z","authentication_factors":[]}`
	require.NoError(t, store.SetString(ctx, legacySession, migration.LegacySession))
	require.NoError(t, store.SetString(ctx, "legacy-opaque", migration.LegacySessionToken))
	require.NoError(t, store.SetString(ctx, "legacy-jwt", migration.LegacySessionJWT))

	// A current value wins over the legacy one
	require.NoError(t, store.SetString(ctx, "current-jwt", keychain.JWT(keychain.ScopeConsumer)))

	_, err := migration.NewChain(nil, migration.Builtin()...).Run(ctx, store)
	require.NoError(t, err)

	for _, item := range []keychain.Item{migration.LegacySession, migration.LegacySessionToken, migration.LegacySessionJWT} {
		ok, err := store.Exists(ctx, item)
		require.NoError(t, err)
		require.False(t, ok, item.Name)
	}

	opaque, err := store.String(ctx, keychain.OpaqueToken(keychain.ScopeConsumer))
	require.NoError(t, err)
	require.Equal(t, "legacy-opaque", opaque)

	jwt, err := store.String(ctx, keychain.JWT(keychain.ScopeConsumer))
	require.NoError(t, err)
	require.Equal(t, "current-jwt", jwt)

	// The migrated session object is readable through the session store
	sessions := session.NewConsumer(store, session.Options{
		Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	sess, err := sessions.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, "sess-legacy", sess.SessionID)

	at, err := sessions.LastValidatedAt(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), at.UTC())
}

func TestLegacyIntermediateTokenIsDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newStore(t)

	// Legacy intermediate tokens carry no timestamp, so the later migration
	// has to discard what the first one moved.
	require.NoError(t, store.SetString(ctx, "legacy-ist", migration.LegacyIntermediateToken))

	_, err := migration.NewChain(nil, migration.Builtin()...).Run(ctx, store)
	require.NoError(t, err)

	for _, item := range []keychain.Item{migration.LegacyIntermediateToken, keychain.IntermediateToken(keychain.ScopeConsumer)} {
		ok, err := store.Exists(ctx, item)
		require.NoError(t, err)
		require.False(t, ok, item.Name)
	}
}

func TestTimedIntermediateTokenIsKept(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.SetString(ctx, "ist", keychain.IntermediateToken(keychain.ScopeMember)))
	require.NoError(t, store.SetTime(ctx, time.Now(), keychain.IntermediateValidatedAt(keychain.ScopeMember)))

	_, err := migration.NewChain(nil, migration.Builtin()...).Run(ctx, store)
	require.NoError(t, err)

	got, err := store.String(ctx, keychain.IntermediateToken(keychain.ScopeMember))
	require.NoError(t, err)
	require.Equal(t, "ist", got)
}

func TestReapplyAccessPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, d := newStore(t)

	// Written by an older release without the device owner policy
	item := keychain.PrivateKeyRegistration("alice")
	require.NoError(t, d.Insert(ctx, keychain.Record{
		Name:    item.Name,
		Account: "alice",
		Policy:  keychain.PolicyNone,
		Data:    []byte("key-material"),
	}))

	_, err := migration.NewChain(nil, migration.Builtin()...).Run(ctx, store)
	require.NoError(t, err)

	results, err := store.Get(ctx, item)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, keychain.PolicyDeviceOwner, results[0].Policy)
	require.Equal(t, "key-material", string(results[0].Data))
}

func TestBuiltinIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	seed := func(t *testing.T, store *keychain.Store) {
		legacySession, err := json.Marshal(map[string]any{
			"session_id":       "s",
			"user_id":          "u",
			"started_at":       "2025-01-01T00:00:00Z",
			"last_accessed_at": "2025-01-01T00:00:00Z",
			"expires_at":       "2099-01-01T00:00:00Z",
		})
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, legacySession, migration.LegacySession))
		require.NoError(t, store.SetString(ctx, "o", migration.LegacySessionToken))
		require.NoError(t, store.SetString(ctx, "j", migration.LegacySessionJWT))
		require.NoError(t, store.SetString(ctx, "ist", migration.LegacyIntermediateToken))
	}

	names := []string{
		migration.LegacySession.Name,
		migration.LegacySessionToken.Name,
		migration.LegacySessionJWT.Name,
		migration.LegacyIntermediateToken.Name,
	}
	for _, item := range keychain.All() {
		names = append(names, item.Name)
	}

	once, onceDriver := newStore(t)
	seed(t, once)
	_, err := migration.NewChain(nil, migration.Builtin()...).Run(ctx, once)
	require.NoError(t, err)

	twice, twiceDriver := newStore(t)
	seed(t, twice)
	for range 2 {
		_, err := migration.NewChain(nil, migration.Builtin()...).Run(ctx, twice)
		require.NoError(t, err)
	}

	require.Equal(t, snapshot(t, onceDriver, names...), snapshot(t, twiceDriver, names...))

	// Running the bodies again even with the flags ignored changes nothing
	for _, m := range migration.Builtin() {
		require.NoError(t, m.Run(ctx, twice), m.Name)
	}
	require.Equal(t, snapshot(t, onceDriver, names...), snapshot(t, twiceDriver, names...))
}
