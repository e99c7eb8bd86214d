// Package pkce generates and tracks PKCE code pairs (RFC 7636) for
// redirect-based flows.
//
// One verifier is kept per slot. Starting a second flow in the same slot
// before the first completes overwrites the first verifier, so concurrent
// flows of one type must be serialized by the caller.
package pkce

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
)

// MethodS256 is the only challenge method produced.
const MethodS256 = "S256"

// ErrMissingPKCE is returned when an authenticate call needs a verifier and
// none has been generated for the slot.
var ErrMissingPKCE = errors.New("pkce: no code verifier for this flow, start the flow first")

// Slot names an independent verifier slot.
type Slot string

const (
	SlotConsumer Slot = keychain.ScopeConsumer
	SlotB2B      Slot = keychain.ScopeB2B
)

func (s Slot) item() keychain.Item { return keychain.PKCEVerifier(string(s)) }

// CodePair is a verifier and its S256 challenge.
type CodePair struct {
	// Verifier stays on the device until the flow completes.
	Verifier string
	// Challenge is sent when the flow starts.
	Challenge string
	Method    string
}

// Challenge computes the S256 challenge for verifier.
func Challenge(verifier string) string {
	return cryptox.S256([]byte(verifier))
}

func pairFor(verifier string) *CodePair {
	return &CodePair{Verifier: verifier, Challenge: Challenge(verifier), Method: MethodS256}
}

// Manager persists verifiers in a keychain.Store.
type Manager struct {
	store  *keychain.Store
	rand   io.Reader
	logger *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRandom sets the entropy source. Defaults to crypto/rand.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.rand = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func New(store *keychain.Store, opts ...Option) *Manager {
	m := &Manager{store: store, rand: rand.Reader, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate creates a fresh pair for slot and persists its verifier,
// replacing any unconsumed one.
func (m *Manager) Generate(ctx context.Context, slot Slot) (*CodePair, error) {
	verifier, err := cryptox.GenerateTokenFrom(m.rand, cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	if err := m.store.SetString(ctx, verifier, slot.item()); err != nil {
		return nil, err
	}

	m.logger.Debug("pkce pair generated", "pkce_slot", string(slot))
	return pairFor(verifier), nil
}

// Get returns the stored pair for slot without consuming it, or nil.
func (m *Manager) Get(ctx context.Context, slot Slot) (*CodePair, error) {
	verifier, err := m.store.String(ctx, slot.item())
	if err != nil || verifier == "" {
		return nil, err
	}
	return pairFor(verifier), nil
}

// Require is Get that treats absence as ErrMissingPKCE.
func (m *Manager) Require(ctx context.Context, slot Slot) (*CodePair, error) {
	pair, err := m.Get(ctx, slot)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrMissingPKCE
	}
	return pair, nil
}

// Clear removes the verifier for slot. Flows call it once the authenticate
// call that used the verifier has succeeded.
func (m *Manager) Clear(ctx context.Context, slot Slot) error {
	return m.store.Remove(ctx, slot.item())
}

// Consume returns the pair for slot and removes it in one step. It is for
// callers that do not retry the authenticate call.
func (m *Manager) Consume(ctx context.Context, slot Slot) (*CodePair, error) {
	pair, err := m.Require(ctx, slot)
	if err != nil {
		return nil, err
	}
	if err := m.Clear(ctx, slot); err != nil {
		return nil, err
	}
	return pair, nil
}
