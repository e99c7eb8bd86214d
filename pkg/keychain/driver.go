package keychain

import (
	"context"
	"time"
)

// Query selects records by name and optionally by account.
type Query struct {
	Name string
	// Account narrows the query; empty matches every account.
	Account string
}

// Record is a single entry as held by a Driver. Data is opaque to drivers;
// the Store may have sealed it.
type Record struct {
	Name       string
	Account    string
	Label      string
	Generic    string
	Policy     Policy
	Data       []byte
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Driver is the platform secret store behind a Store. Implementations need
// not be safe for concurrent use beyond what their backing engine provides;
// the Store serializes every call.
type Driver interface {
	// Query returns all records matching q, or an empty slice.
	Query(ctx context.Context, q Query) ([]Record, error)

	// Count returns the number of records matching q without returning data.
	Count(ctx context.Context, q Query) (int, error)

	// Insert adds a new record. Inserting an existing name/account pair is an error.
	Insert(ctx context.Context, r Record) error

	// Update replaces data, label, generic, policy and modification time of
	// the records matching q.
	Update(ctx context.Context, q Query, r Record) error

	// Delete removes all records matching q. Deleting nothing is not an error.
	Delete(ctx context.Context, q Query) error

	Close() error
}

func queryFor(item Item) Query {
	return Query{Name: item.Name, Account: item.Account}
}
