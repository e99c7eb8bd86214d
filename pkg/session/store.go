package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
)

// DefaultIntermediateTTL is how long an intermediate session token stays
// usable after it was last written.
const DefaultIntermediateTTL = 10 * time.Minute

// Options configures a Store. Zero values get defaults.
type Options struct {
	Logger          *slog.Logger
	Now             func() time.Time
	IntermediateTTL time.Duration
}

// Store is the source of truth for one principal slot. Every transition is
// written to the keychain before observers hear about it, and observers hear
// about transitions in the order they were written.
type Store[T Value] struct {
	// seq is held from the start of a transition until its event has been
	// delivered. mu guards the keychain items and gen only, so subscribers
	// can still read while seq is held.
	seq sync.Mutex
	mu  sync.Mutex
	gen uint64

	kc     *keychain.Store
	slot   Slot
	items  items
	obs    observers[T]
	logger *slog.Logger
	now    func() time.Time
	ttl    time.Duration
}

type items struct {
	session, opaque, jwt, ist, istAt keychain.Item
}

// New creates the store for T's slot.
func New[T Value](kc *keychain.Store, opts Options) *Store[T] {
	var zero T
	slot := zero.Slot()
	scope := slot.Scope()

	s := &Store[T]{
		kc:   kc,
		slot: slot,
		items: items{
			session: keychain.SessionObject(scope),
			opaque:  keychain.OpaqueToken(scope),
			jwt:     keychain.JWT(scope),
			ist:     keychain.IntermediateToken(scope),
			istAt:   keychain.IntermediateValidatedAt(scope),
		},
		logger: opts.Logger,
		now:    opts.Now,
		ttl:    opts.IntermediateTTL,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("slot", slot.String())
	if s.now == nil {
		s.now = time.Now
	}
	if s.ttl <= 0 {
		s.ttl = DefaultIntermediateTTL
	}
	return s
}

// NewConsumer creates the consumer slot store.
func NewConsumer(kc *keychain.Store, opts Options) *Store[UserSession] {
	return New[UserSession](kc, opts)
}

// NewMember creates the member slot store.
func NewMember(kc *keychain.Store, opts Options) *Store[MemberSession] {
	return New[MemberSession](kc, opts)
}

func (s *Store[T]) Slot() Slot { return s.slot }

// UpdateSession makes sess the active session. It writes the session, the
// opaque token and the JWT in that order and then drops any intermediate
// token. Subscribers get EventUpdated once every write has landed.
func (s *Store[T]) UpdateSession(ctx context.Context, sess T, tokens Tokens) error {
	return s.update(ctx, nil, sess, tokens)
}

// UpdateSessionIf is UpdateSession that only applies while the slot is still
// at generation gen, as returned by SessionTokenGen. Otherwise nothing is
// written and ErrStale is returned.
func (s *Store[T]) UpdateSessionIf(ctx context.Context, gen uint64, sess T, tokens Tokens) error {
	return s.update(ctx, &gen, sess, tokens)
}

func (s *Store[T]) update(ctx context.Context, want *uint64, sess T, tokens Tokens) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if !tokens.valid() {
		return ErrInvalidTokens
	}

	s.seq.Lock()
	defer s.seq.Unlock()

	s.mu.Lock()
	if want != nil && *want != s.gen {
		s.mu.Unlock()
		return ErrStale
	}
	validatedAt := s.now().UTC()
	err := s.writeSession(ctx, sess, tokens, validatedAt)
	s.gen++
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Debug("session updated", "session_id", sess.ID(), "expires_at", sess.Expiry())
	s.obs.emit(Event[T]{Kind: EventUpdated, Session: sess, LastValidatedAt: validatedAt})
	return nil
}

func (s *Store[T]) writeSession(ctx context.Context, sess T, tokens Tokens, at time.Time) error {
	env := Envelope[T]{Session: sess, LastValidatedAt: at}
	if err := s.kc.SetObject(ctx, env, s.items.session); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := s.kc.SetString(ctx, tokens.Opaque, s.items.opaque); err != nil {
		return fmt.Errorf("writing session token: %w", err)
	}
	if err := s.kc.SetString(ctx, tokens.JWT, s.items.jwt); err != nil {
		return fmt.Errorf("writing session jwt: %w", err)
	}
	return s.removeAll(ctx, s.items.ist, s.items.istAt)
}

// UpdateIntermediate stores an intermediate session token and clears any
// active session. If a session was displaced, subscribers get EventUnavailable
// with ReasonIntermediate.
func (s *Store[T]) UpdateIntermediate(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	s.seq.Lock()
	defer s.seq.Unlock()

	s.mu.Lock()
	hadSession, err := s.kc.Exists(ctx, s.items.session)
	if err == nil {
		// The session object goes first so readers never see it next to the
		// new token.
		err = s.removeAll(ctx, s.items.session, s.items.opaque, s.items.jwt)
	}
	if err == nil {
		err = s.kc.SetString(ctx, token, s.items.ist)
	}
	if err == nil {
		err = s.kc.SetTime(ctx, s.now(), s.items.istAt)
	}
	s.gen++
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing intermediate session: %w", err)
	}

	s.logger.Debug("intermediate session stored", "displaced_session", hadSession)
	if hadSession {
		s.obs.emit(Event[T]{Kind: EventUnavailable, Reason: ReasonIntermediate})
	}
	return nil
}

// Session returns the stored session, or nil if there is none or it has
// expired. Expired entries stay in the keychain until the next mutation.
func (s *Store[T]) Session(ctx context.Context) (*T, error) {
	env, err := s.envelope(ctx)
	if err != nil || env == nil {
		return nil, err
	}
	if !s.now().Before(env.Session.Expiry()) {
		return nil, nil
	}
	return &env.Session, nil
}

// LastValidatedAt returns when the stored session was last written. The zero
// time means no session is stored.
func (s *Store[T]) LastValidatedAt(ctx context.Context) (time.Time, error) {
	env, err := s.envelope(ctx)
	if err != nil || env == nil {
		return time.Time{}, err
	}
	return env.LastValidatedAt, nil
}

func (s *Store[T]) envelope(ctx context.Context) (*Envelope[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := keychain.GetObject[Envelope[T]](ctx, s.kc, s.items.session)
	if errors.Is(err, keychain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// SessionToken returns the stored opaque token without checking expiry.
func (s *Store[T]) SessionToken(ctx context.Context) (string, error) {
	return s.read(ctx, s.items.opaque)
}

// SessionTokenGen returns the stored opaque token and the slot's current
// generation. Every transition moves the generation on.
func (s *Store[T]) SessionTokenGen(ctx context.Context) (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opaque, err := s.kc.String(ctx, s.items.opaque)
	return opaque, s.gen, err
}

// SessionJWT returns the stored JWT without checking expiry.
func (s *Store[T]) SessionJWT(ctx context.Context) (string, error) {
	return s.read(ctx, s.items.jwt)
}

// Tokens returns both stored tokens.
func (s *Store[T]) Tokens(ctx context.Context) (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opaque, err := s.kc.String(ctx, s.items.opaque)
	if err != nil {
		return Tokens{}, err
	}
	jwt, err := s.kc.String(ctx, s.items.jwt)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Opaque: opaque, JWT: jwt}, nil
}

func (s *Store[T]) read(ctx context.Context, item keychain.Item) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kc.String(ctx, item)
}

// IntermediateToken returns the intermediate session token if one was written
// within the TTL and no session is stored.
func (s *Store[T]) IntermediateToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasSession, err := s.kc.Exists(ctx, s.items.session)
	if err != nil || hasSession {
		return "", err
	}

	token, err := s.kc.String(ctx, s.items.ist)
	if err != nil || token == "" {
		return "", err
	}

	at, err := s.kc.Time(ctx, s.items.istAt)
	if err != nil {
		return "", err
	}
	if at.IsZero() || s.now().Sub(at) >= s.ttl {
		return "", nil
	}
	return token, nil
}

// State reports the slot's current state.
func (s *Store[T]) State(ctx context.Context) (State, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return StateNone, err
	}
	if sess != nil {
		return StateActive, nil
	}

	ist, err := s.IntermediateToken(ctx)
	if err != nil {
		return StateNone, err
	}
	if ist != "" {
		return StateIntermediate, nil
	}
	return StateNone, nil
}

// Reset clears the session, its tokens and any intermediate token, then
// emits EventUnavailable with reason.
func (s *Store[T]) Reset(ctx context.Context, reason Reason) error {
	return s.reset(ctx, nil, reason)
}

// ResetIf is Reset that only applies while the slot is still at generation
// gen. Otherwise nothing is removed and ErrStale is returned.
func (s *Store[T]) ResetIf(ctx context.Context, gen uint64, reason Reason) error {
	return s.reset(ctx, &gen, reason)
}

func (s *Store[T]) reset(ctx context.Context, want *uint64, reason Reason) error {
	s.seq.Lock()
	defer s.seq.Unlock()

	s.mu.Lock()
	if want != nil && *want != s.gen {
		s.mu.Unlock()
		return ErrStale
	}
	err := s.removeAll(ctx, s.items.session, s.items.opaque, s.items.jwt, s.items.ist, s.items.istAt)
	s.gen++
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	s.logger.Info("session cleared", "reason", string(reason))
	s.obs.emit(Event[T]{Kind: EventUnavailable, Reason: reason})
	return nil
}

// Subscribe registers fn for every event on this slot. Callbacks run
// synchronously on the goroutine that made the change, one transition at a
// time. They may read from the store but must not change it. The returned
// func unsubscribes.
func (s *Store[T]) Subscribe(fn func(Event[T])) (unsubscribe func()) {
	return s.obs.add(fn)
}

func (s *Store[T]) removeAll(ctx context.Context, items ...keychain.Item) error {
	for _, item := range items {
		if err := s.kc.Remove(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
