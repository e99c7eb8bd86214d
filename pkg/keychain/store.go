package keychain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sealer protects values at rest. cryptox.Sealer satisfies it.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// Options configures a Store. Zero values get defaults.
type Options struct {
	// Sealer, if set, encrypts every value before it reaches the driver.
	Sealer Sealer

	// Prompter confirms user presence for protected items. Defaults to one
	// that always refuses.
	Prompter Prompter

	Logger *slog.Logger
	Now    func() time.Time
}

// QueryResult is one stored entry for an item.
type QueryResult struct {
	Data       []byte
	CreatedAt  time.Time
	ModifiedAt time.Time
	Label      string
	Account    string
	Generic    string
	Policy     Policy
}

// Value is what gets written for an item. Only Data is required.
type Value struct {
	Data    []byte
	Label   string
	Generic string
}

// Store provides typed access to a Driver. A single lock serializes every
// operation; writes are rare and a protected read may block on a prompt.
type Store struct {
	mu       sync.Mutex
	driver   Driver
	sealer   Sealer
	prompter Prompter
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Store on top of driver.
func New(driver Driver, opts Options) *Store {
	s := &Store{
		driver:   driver,
		sealer:   opts.Sealer,
		prompter: opts.Prompter,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.prompter == nil {
		s.prompter = denyPrompter{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Get returns every entry matching item. Reading an existing protected item
// prompts according to its policy.
func (s *Store) Get(ctx context.Context, item Item) ([]QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.driver.Query(ctx, queryFor(item))
	if err != nil {
		return nil, storeErr("get", item, StatusIO, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	if err := s.authorize(ctx, "read", item); err != nil {
		return nil, storeErr("get", item, StatusAuthFailed, err)
	}

	results := make([]QueryResult, 0, len(records))
	for _, r := range records {
		data, err := s.open(r)
		if err != nil {
			return nil, storeErr("get", item, StatusCorrupt, err)
		}
		results = append(results, QueryResult{
			Data:       data,
			CreatedAt:  r.CreatedAt,
			ModifiedAt: r.ModifiedAt,
			Label:      r.Label,
			Account:    r.Account,
			Generic:    r.Generic,
			Policy:     r.Policy,
		})
	}
	return results, nil
}

// Set upserts raw bytes for item.
func (s *Store) Set(ctx context.Context, data []byte, item Item) error {
	return s.SetValue(ctx, Value{Data: data}, item)
}

// SetValue upserts v for item. An existing entry is updated in place,
// otherwise a new one is inserted. The item's policy is recorded with the
// write. Account-keyed items must name their account.
func (s *Store) SetValue(ctx context.Context, v Value, item Item) error {
	if item.Kind.AccountKeyed() && item.Account == "" {
		return fmt.Errorf("keychain: set %s: %w", item, ErrAccountRequired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(ctx, "write", item); err != nil {
		return storeErr("set", item, StatusAuthFailed, err)
	}

	sealed, err := s.seal(item, v.Data)
	if err != nil {
		return storeErr("set", item, StatusSeal, err)
	}

	now := s.now().UTC()
	record := Record{
		Name:       item.Name,
		Account:    item.Account,
		Label:      v.Label,
		Generic:    v.Generic,
		Policy:     item.Policy,
		Data:       sealed,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	q := queryFor(item)
	n, err := s.driver.Count(ctx, q)
	if err != nil {
		return storeErr("set", item, StatusIO, err)
	}

	if n > 0 {
		err = s.driver.Update(ctx, q, record)
	} else {
		err = s.driver.Insert(ctx, record)
	}
	if err != nil {
		return storeErr("set", item, StatusIO, err)
	}
	return nil
}

// Remove deletes every entry matching item. Removing an absent item succeeds.
func (s *Store) Remove(ctx context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.driver.Delete(ctx, queryFor(item)); err != nil {
		return storeErr("remove", item, StatusIO, err)
	}
	return nil
}

// Exists reports whether item has at least one entry. It never prompts.
func (s *Store) Exists(ctx context.Context, item Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.driver.Count(ctx, queryFor(item))
	if err != nil {
		return false, storeErr("exists", item, StatusIO, err)
	}
	return n > 0, nil
}

// Reprotect rewrites entries of item whose recorded policy differs from the
// descriptor's. Data is carried over sealed as-is. It returns the number of
// entries rewritten; writing a protected policy prompts once.
func (s *Store) Reprotect(ctx context.Context, item Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.driver.Query(ctx, queryFor(item))
	if err != nil {
		return 0, storeErr("reprotect", item, StatusIO, err)
	}

	var stale []Record
	for _, r := range records {
		if r.Policy != item.Policy {
			stale = append(stale, r)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.authorize(ctx, "write", item); err != nil {
		return 0, storeErr("reprotect", item, StatusAuthFailed, err)
	}

	now := s.now().UTC()
	for _, r := range stale {
		r.Policy = item.Policy
		r.ModifiedAt = now
		if err := s.driver.Update(ctx, Query{Name: r.Name, Account: r.Account}, r); err != nil {
			return 0, storeErr("reprotect", item, StatusIO, err)
		}
	}
	return len(stale), nil
}

// Reset removes every registry item. Migration flags survive.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, item := range All() {
		if err := s.driver.Delete(ctx, queryFor(item)); err != nil {
			errs = append(errs, storeErr("reset", item, StatusIO, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.logger.Debug("keychain reset", "items", len(All()))
	return nil
}

// Data returns the first entry's bytes or ErrNotFound.
func (s *Store) Data(ctx context.Context, item Item) ([]byte, error) {
	results, err := s.Get(ctx, item)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0].Data, nil
}

// String returns the item as a string, or "" if absent.
func (s *Store) String(ctx context.Context, item Item) (string, error) {
	data, err := s.Data(ctx, item)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) SetString(ctx context.Context, value string, item Item) error {
	return s.Set(ctx, []byte(value), item)
}

// Time reads an RFC3339 timestamp written by SetTime. The zero time and a
// nil error mean the item is absent.
func (s *Store) Time(ctx context.Context, item Item) (time.Time, error) {
	raw, err := s.String(ctx, item)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &DecodeError{Item: item.String(), Err: err}
	}
	return t, nil
}

func (s *Store) SetTime(ctx context.Context, t time.Time, item Item) error {
	return s.SetString(ctx, t.UTC().Format(time.RFC3339Nano), item)
}

// SetObject stores v as JSON.
func (s *Store) SetObject(ctx context.Context, v any, item Item) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("keychain: encode %s: %w", item, err)
	}
	return s.Set(ctx, data, item)
}

// GetObject decodes the JSON stored under item. It returns ErrNotFound when
// the item is absent and a *DecodeError when the data is malformed.
func GetObject[T any](ctx context.Context, s *Store, item Item) (T, error) {
	var v T
	data, err := s.Data(ctx, item)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &DecodeError{Item: item.String(), Err: err}
	}
	return v, nil
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.Close()
}

func (s *Store) authorize(ctx context.Context, action string, item Item) error {
	if item.Policy == PolicyNone {
		return nil
	}
	reason := fmt.Sprintf("%s %s", action, item.Name)
	return s.prompter.Authenticate(ctx, item.Policy, reason)
}

func (s *Store) seal(item Item, data []byte) ([]byte, error) {
	if s.sealer == nil {
		return append([]byte(nil), data...), nil
	}
	return s.sealer.Seal(data, aad(item.Name, item.Account))
}

func (s *Store) open(r Record) ([]byte, error) {
	if s.sealer == nil {
		return r.Data, nil
	}
	return s.sealer.Open(r.Data, aad(r.Name, r.Account))
}

func aad(name, account string) []byte {
	return []byte(name + "\x00" + account)
}
