// Package sqlite provides a keychain.Driver backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	_ "modernc.org/sqlite"
)

// Driver implements keychain.Driver on a SQLite database.
type Driver struct {
	db  *sql.DB
	dsn string
}

var _ keychain.Driver = (*Driver)(nil)

// Open opens the database at dsn and applies schema migrations.
func Open(dsn string) (*Driver, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	d := &Driver{db: db, dsn: dsn}
	if err := d.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying keychain schema: %w", err)
	}
	return d, nil
}

// OpenFile opens a database file at path with WAL journaling and a busy timeout.
func OpenFile(path string) (*Driver, error) {
	return Open(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
}

func (d *Driver) Close() error { return d.db.Close() }

// Ping verifies the database connection is still alive.
func (d *Driver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

const selectColumns = `name, account, label, generic, policy, data, created_at, modified_at`

// matchClause matches a name and, when the account argument is non-empty, an account.
const matchClause = `name = ? AND (? = '' OR account = ?)`

func (d *Driver) Query(ctx context.Context, q keychain.Query) ([]keychain.Record, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM keychain_items WHERE `+matchClause+` ORDER BY account`,
		q.Name, q.Account, q.Account,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []keychain.Record
	for rows.Next() {
		var (
			r                 keychain.Record
			policy            int
			created, modified int64
		)
		if err := rows.Scan(&r.Name, &r.Account, &r.Label, &r.Generic, &policy, &r.Data, &created, &modified); err != nil {
			return nil, err
		}
		r.Policy = keychain.Policy(policy)
		r.CreatedAt = time.Unix(0, created).UTC()
		r.ModifiedAt = time.Unix(0, modified).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Driver) Count(ctx context.Context, q keychain.Query) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keychain_items WHERE `+matchClause,
		q.Name, q.Account, q.Account,
	).Scan(&n)
	return n, err
}

func (d *Driver) Insert(ctx context.Context, r keychain.Record) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO keychain_items (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Account, r.Label, r.Generic, int(r.Policy), blob(r.Data),
		r.CreatedAt.UnixNano(), r.ModifiedAt.UnixNano(),
	)
	return err
}

func (d *Driver) Update(ctx context.Context, q keychain.Query, r keychain.Record) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE keychain_items SET label = ?, generic = ?, policy = ?, data = ?, modified_at = ? WHERE `+matchClause,
		r.Label, r.Generic, int(r.Policy), blob(r.Data), r.ModifiedAt.UnixNano(),
		q.Name, q.Account, q.Account,
	)
	return err
}

func (d *Driver) Delete(ctx context.Context, q keychain.Query) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM keychain_items WHERE `+matchClause,
		q.Name, q.Account, q.Account,
	)
	return err
}

// blob keeps empty values from being written as NULL.
func blob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
