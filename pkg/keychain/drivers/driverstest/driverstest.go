// Package driverstest holds a conformance suite shared by every keychain driver.
package driverstest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"github.com/stretchr/testify/require"
)

// Run exercises newDriver against the keychain.Driver contract. Each subtest
// gets a fresh driver.
func Run(t *testing.T, newDriver func(t *testing.T) keychain.Driver) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := func(name, account, data string) keychain.Record {
		return keychain.Record{
			Name:       name,
			Account:    account,
			Label:      "label-" + account,
			Generic:    "generic",
			Policy:     keychain.PolicyNone,
			Data:       []byte(data),
			CreatedAt:  now,
			ModifiedAt: now,
		}
	}

	t.Run("InsertQuery", func(t *testing.T) {
		d := newDriver(t)
		require.NoError(t, d.Insert(ctx, rec("token", "", "value")))

		got, err := d.Query(ctx, keychain.Query{Name: "token"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, []byte("value"), got[0].Data)
		require.Equal(t, "generic", got[0].Generic)
		require.True(t, now.Equal(got[0].CreatedAt))
	})

	t.Run("QueryMissing", func(t *testing.T) {
		d := newDriver(t)
		got, err := d.Query(ctx, keychain.Query{Name: "missing"})
		require.NoError(t, err)
		require.Empty(t, got)

		n, err := d.Count(ctx, keychain.Query{Name: "missing"})
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("InsertDuplicate", func(t *testing.T) {
		d := newDriver(t)
		require.NoError(t, d.Insert(ctx, rec("token", "", "a")))
		require.Error(t, d.Insert(ctx, rec("token", "", "b")))
	})

	t.Run("Accounts", func(t *testing.T) {
		d := newDriver(t)
		require.NoError(t, d.Insert(ctx, rec("reg", "alice", "a")))
		require.NoError(t, d.Insert(ctx, rec("reg", "bob", "b")))
		require.NoError(t, d.Insert(ctx, rec("regs", "carol", "c")))

		all, err := d.Query(ctx, keychain.Query{Name: "reg"})
		require.NoError(t, err)
		require.Len(t, all, 2)

		one, err := d.Query(ctx, keychain.Query{Name: "reg", Account: "bob"})
		require.NoError(t, err)
		require.Len(t, one, 1)
		require.Equal(t, []byte("b"), one[0].Data)
		require.Equal(t, "bob", one[0].Account)
	})

	t.Run("Update", func(t *testing.T) {
		d := newDriver(t)
		require.NoError(t, d.Insert(ctx, rec("token", "", "old")))

		later := now.Add(time.Hour)
		updated := rec("token", "", "new")
		updated.Policy = keychain.PolicyBiometric
		updated.ModifiedAt = later
		require.NoError(t, d.Update(ctx, keychain.Query{Name: "token"}, updated))

		got, err := d.Query(ctx, keychain.Query{Name: "token"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, []byte("new"), got[0].Data)
		require.Equal(t, keychain.PolicyBiometric, got[0].Policy)
		require.True(t, now.Equal(got[0].CreatedAt), "created_at must survive updates")
		require.True(t, later.Equal(got[0].ModifiedAt))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		d := newDriver(t)
		require.NoError(t, d.Insert(ctx, rec("reg", "alice", "a")))
		require.NoError(t, d.Insert(ctx, rec("reg", "bob", "b")))

		require.NoError(t, d.Delete(ctx, keychain.Query{Name: "reg", Account: "alice"}))
		n, err := d.Count(ctx, keychain.Query{Name: "reg"})
		require.NoError(t, err)
		require.Equal(t, 1, n)

		require.NoError(t, d.Delete(ctx, keychain.Query{Name: "reg"}))
		require.NoError(t, d.Delete(ctx, keychain.Query{Name: "reg"}))
		n, err = d.Count(ctx, keychain.Query{Name: "reg"})
		require.NoError(t, err)
		require.Zero(t, n)
	})
}
