// Package memory provides a thread-safe in-memory keychain.Driver.
// Suitable for testing and for processes that do not need to persist secrets.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
)

// ErrDuplicate is returned when inserting a name/account pair that exists.
var ErrDuplicate = errors.New("memory: duplicate item")

// Driver is a thread-safe in-memory implementation of keychain.Driver.
type Driver struct {
	mu   sync.RWMutex
	data map[string]map[string]keychain.Record // name -> account -> record
}

var _ keychain.Driver = (*Driver)(nil)

// New creates a new empty in-memory Driver.
func New() *Driver {
	return &Driver{data: make(map[string]map[string]keychain.Record)}
}

func cloneRecord(r keychain.Record) keychain.Record {
	r.Data = append([]byte(nil), r.Data...)
	return r
}

func (d *Driver) Query(_ context.Context, q keychain.Query) ([]keychain.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []keychain.Record
	for _, r := range d.matchLocked(q) {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (d *Driver) Count(_ context.Context, q keychain.Query) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.matchLocked(q)), nil
}

func (d *Driver) Insert(_ context.Context, r keychain.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	accounts, ok := d.data[r.Name]
	if !ok {
		accounts = make(map[string]keychain.Record)
		d.data[r.Name] = accounts
	}
	if _, exists := accounts[r.Account]; exists {
		return ErrDuplicate
	}
	accounts[r.Account] = cloneRecord(r)
	return nil
}

func (d *Driver) Update(_ context.Context, q keychain.Query, r keychain.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.matchLocked(q) {
		existing.Data = append([]byte(nil), r.Data...)
		existing.Label = r.Label
		existing.Generic = r.Generic
		existing.Policy = r.Policy
		existing.ModifiedAt = r.ModifiedAt
		d.data[existing.Name][existing.Account] = existing
	}
	return nil
}

func (d *Driver) Delete(_ context.Context, q keychain.Query) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	accounts, ok := d.data[q.Name]
	if !ok {
		return nil
	}
	if q.Account == "" {
		delete(d.data, q.Name)
		return nil
	}
	delete(accounts, q.Account)
	if len(accounts) == 0 {
		delete(d.data, q.Name)
	}
	return nil
}

func (d *Driver) Close() error { return nil }

// Len returns the total number of records held. Useful in tests.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, accounts := range d.data {
		n += len(accounts)
	}
	return n
}

// matchLocked returns matching records ordered by account for stable output.
func (d *Driver) matchLocked(q keychain.Query) []keychain.Record {
	accounts, ok := d.data[q.Name]
	if !ok {
		return nil
	}
	if q.Account != "" {
		r, ok := accounts[q.Account]
		if !ok {
			return nil
		}
		return []keychain.Record{r}
	}

	out := make([]keychain.Record, 0, len(accounts))
	for _, r := range accounts {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}
