// Package bbolt provides a BBolt-backed keychain.Driver.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("keychain")

// ErrDuplicate is returned when inserting a name/account pair that exists.
var ErrDuplicate = errors.New("bbolt: duplicate item")

// Driver implements keychain.Driver backed by a BBolt database. Records are
// stored as JSON under "<name>\x00<account>".
type Driver struct {
	db *bbolt.DB
}

var _ keychain.Driver = (*Driver)(nil)

// New returns a Driver backed by the given BBolt database.
func New(db *bbolt.DB) *Driver {
	return &Driver{db: db}
}

// Open opens a BBolt database at the given path and returns a new Driver.
func Open(path string, options *bbolt.Options) (*Driver, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db), nil
}

// Close closes the underlying BBolt database.
func (d *Driver) Close() error {
	return d.db.Close()
}

func namePrefix(name string) []byte {
	return []byte(name + "\x00")
}

func key(name, account string) []byte {
	return []byte(name + "\x00" + account)
}

// each calls fn for every stored record matching q.
func each(b *bbolt.Bucket, q keychain.Query, fn func(k []byte, r keychain.Record) error) error {
	if b == nil {
		return nil
	}
	if q.Account != "" {
		k := key(q.Name, q.Account)
		data := b.Get(k)
		if data == nil {
			return nil
		}
		var r keychain.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		return fn(k, r)
	}

	prefix := namePrefix(q.Name)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var r keychain.Record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		// Copy the key: it is only valid for the life of the transaction
		// and fn may mutate the bucket.
		if err := fn(append([]byte(nil), k...), r); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) Query(_ context.Context, q keychain.Query) ([]keychain.Record, error) {
	var out []keychain.Record
	err := d.db.View(func(tx *bbolt.Tx) error {
		return each(tx.Bucket(bucketName), q, func(_ []byte, r keychain.Record) error {
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (d *Driver) Count(_ context.Context, q keychain.Query) (int, error) {
	n := 0
	err := d.db.View(func(tx *bbolt.Tx) error {
		return each(tx.Bucket(bucketName), q, func([]byte, keychain.Record) error {
			n++
			return nil
		})
	})
	return n, err
}

func (d *Driver) Insert(_ context.Context, r keychain.Record) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		k := key(r.Name, r.Account)
		if b.Get(k) != nil {
			return ErrDuplicate
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
}

func (d *Driver) Update(_ context.Context, q keychain.Query, r keychain.Record) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}

		type pending struct {
			key []byte
			rec keychain.Record
		}
		var updates []pending
		err := each(b, q, func(k []byte, existing keychain.Record) error {
			existing.Data = r.Data
			existing.Label = r.Label
			existing.Generic = r.Generic
			existing.Policy = r.Policy
			existing.ModifiedAt = r.ModifiedAt
			updates = append(updates, pending{key: k, rec: existing})
			return nil
		})
		if err != nil {
			return err
		}

		for _, u := range updates {
			data, err := json.Marshal(u.rec)
			if err != nil {
				return err
			}
			if err := b.Put(u.key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Driver) Delete(_ context.Context, q keychain.Query) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}

		var keys [][]byte
		err := each(b, q, func(k []byte, _ keychain.Record) error {
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
