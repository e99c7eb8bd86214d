package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
)

// Slot selects an independent principal slot.
type Slot int

const (
	SlotConsumer Slot = iota + 1
	SlotMember
)

func (s Slot) String() string {
	switch s {
	case SlotConsumer:
		return "consumer"
	case SlotMember:
		return "member"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Scope maps the slot onto its keychain item namespace.
func (s Slot) Scope() string {
	if s == SlotMember {
		return keychain.ScopeMember
	}
	return keychain.ScopeConsumer
}

var (
	ErrInvalidSession = errors.New("session: invalid session")
	ErrInvalidTokens  = errors.New("session: opaque token and jwt are both required")
	ErrEmptyToken     = errors.New("session: empty intermediate session token")

	// ErrStale is returned by UpdateSessionIf when the slot changed after
	// the generation was read.
	ErrStale = errors.New("session: slot changed since the token was read")
)

// Value is a session held by a Store. It is implemented only by UserSession
// and MemberSession.
type Value interface {
	Slot() Slot
	ID() string
	Expiry() time.Time
	Validate() error

	sealed()
}

// Factor is one authentication factor that contributed to a session.
type Factor struct {
	Type                string          `json:"type"`
	DeliveryMethod      string          `json:"delivery_method"`
	LastAuthenticatedAt time.Time       `json:"last_authenticated_at"`
	Payload             json.RawMessage `json:"payload,omitempty"`
}

// Common holds the fields shared by both session kinds.
type Common struct {
	SessionID             string         `json:"session_id"`
	StartedAt             time.Time      `json:"started_at"`
	LastAccessedAt        time.Time      `json:"last_accessed_at"`
	ExpiresAt             time.Time      `json:"expires_at"`
	AuthenticationFactors []Factor       `json:"authentication_factors"`
	CustomClaims          map[string]any `json:"custom_claims,omitempty"`
}

func (c Common) ID() string        { return c.SessionID }
func (c Common) Expiry() time.Time { return c.ExpiresAt }

// ExpiredAt reports whether the session has lapsed at now.
func (c Common) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c Common) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidSession)
	}
	if !c.ExpiresAt.After(c.StartedAt) {
		return fmt.Errorf("%w: expires_at %s is not after started_at %s",
			ErrInvalidSession, c.ExpiresAt.Format(time.RFC3339), c.StartedAt.Format(time.RFC3339))
	}
	return nil
}

// UserSession is a consumer session.
type UserSession struct {
	Common
	UserID string `json:"user_id"`
}

func (UserSession) Slot() Slot { return SlotConsumer }
func (UserSession) sealed()    {}

func (s UserSession) Validate() error {
	if err := s.Common.Validate(); err != nil {
		return err
	}
	if s.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidSession)
	}
	return nil
}

// MemberSession is an organization member session.
type MemberSession struct {
	Common
	MemberID       string   `json:"member_id"`
	OrganizationID string   `json:"organization_id"`
	Roles          []string `json:"roles,omitempty"`
}

func (MemberSession) Slot() Slot { return SlotMember }
func (MemberSession) sealed()    {}

func (s MemberSession) Validate() error {
	if err := s.Common.Validate(); err != nil {
		return err
	}
	if s.MemberID == "" || s.OrganizationID == "" {
		return fmt.Errorf("%w: missing member or organization id", ErrInvalidSession)
	}
	return nil
}

// Tokens are issued together and stored and cleared together.
type Tokens struct {
	Opaque string
	JWT    string
}

func (t Tokens) valid() bool { return t.Opaque != "" && t.JWT != "" }

// Envelope is the persisted form of a session.
type Envelope[T any] struct {
	Session         T         `json:"session"`
	LastValidatedAt time.Time `json:"last_validated_at"`
}

// State is the per-slot state machine position.
type State int

const (
	StateNone State = iota
	StateIntermediate
	StateActive
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateIntermediate:
		return "intermediate"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
