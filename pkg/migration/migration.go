// Package migration runs an ordered list of one-time data migrations against
// a keychain.Store.
//
// Each migration runs at most once per installation. Completion is recorded
// under keychain.MigrationFlag(name) after the body returns, whether or not
// the body changed anything. Flag and body cannot be written atomically, so
// every body must be safe to run twice.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
)

// Migration is a named unit of work. Names are persisted and must never
// change once released.
type Migration struct {
	Name string
	Run  func(ctx context.Context, store *keychain.Store) error
}

// Error reports the migration that failed. The store may be partially
// migrated and callers must not continue.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration %s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Chain runs migrations in order.
type Chain struct {
	migrations []Migration
	logger     *slog.Logger
	now        func() time.Time
}

// NewChain creates a chain over migrations, which run in slice order.
func NewChain(logger *slog.Logger, migrations ...Migration) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		migrations: migrations,
		logger:     logger,
		now:        time.Now,
	}
}

// Names returns the migration names in run order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.migrations))
	for i, m := range c.migrations {
		names[i] = m.Name
	}
	return names
}

// Run executes every migration whose flag is unset and stops at the first
// failure. It returns the names of the migrations that ran.
func (c *Chain) Run(ctx context.Context, store *keychain.Store) ([]string, error) {
	var ran []string
	for _, m := range c.migrations {
		flag := keychain.MigrationFlag(m.Name)

		done, err := store.Exists(ctx, flag)
		if err != nil {
			return ran, &Error{Name: m.Name, Err: err}
		}
		if done {
			continue
		}

		start := time.Now()
		if err := m.Run(ctx, store); err != nil {
			c.logger.Error("migration failed", "migration", m.Name, "error", err)
			return ran, &Error{Name: m.Name, Err: err}
		}

		if err := store.SetTime(ctx, c.now(), flag); err != nil {
			return ran, &Error{Name: m.Name, Err: fmt.Errorf("recording completion: %w", err)}
		}

		c.logger.Info("migration applied", "migration", m.Name, "duration", time.Since(start))
		ran = append(ran, m.Name)
	}
	return ran, nil
}

// Status reports the completion time of each migration. A zero time means
// the migration has not run.
func (c *Chain) Status(ctx context.Context, store *keychain.Store) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(c.migrations))
	for _, m := range c.migrations {
		at, err := store.Time(ctx, keychain.MigrationFlag(m.Name))
		if err != nil {
			return nil, &Error{Name: m.Name, Err: err}
		}
		out[m.Name] = at
	}
	return out, nil
}
