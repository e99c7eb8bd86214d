// Package idx generates the ULIDs the SDK hands to the API: one installation
// id per store and one id per outgoing request.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

// Zero represents the zero value ID, don't use this unless its a placeholder.
const Zero ID = ""

// Prefixes keep ids recognisable in provider logs.
const (
	PrefixInstallation = "install-"
	PrefixRequest      = "sdk-req-"
)

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	globalOnce sync.Once
	global     *generator
)

// generator is a tool to safely generate ULIDs concurrently using a monotonic
// source.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) NewAt(t time.Time) ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	u := ulid.MustNew(ulid.Timestamp(t), g.entropy)
	return ID(u.String())
}

func initGlobal() {
	src := ulid.Monotonic(rand.Reader, 0) // Max Monotonic Window
	global = &generator{entropy: src}
}

// New returns a new lexicographically sortable ULID-based ID using the
// current time in UTC and a monotonic entropy source.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt generates an ID at the provided time (UTC), useful for tests.
func NewAt(t time.Time) ID {
	globalOnce.Do(initGlobal)
	return global.NewAt(t)
}

// Installation returns a new installation id.
func Installation() string {
	return PrefixInstallation + strings.ToLower(New().String())
}

// Request returns a new request id for the X-SDK-Request-ID header.
func Request() string {
	return PrefixRequest + strings.ToLower(New().String())
}

// Parse parses a ULID string, optionally carrying one of the known prefixes,
// and validates its form.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	for _, p := range []string{PrefixInstallation, PrefixRequest} {
		s = strings.TrimPrefix(s, p)
	}

	// Check simple valid string
	if s == "" {
		return Zero, ErrInvalid
	}

	// Lowercase is what we emit; ULIDs are case-insensitive
	u, err := ulid.ParseStrict(strings.ToUpper(s))
	if err != nil {
		return Zero, ErrInvalid
	}

	return ID(u.String()), nil
}

// MustParse parses or panics. Useful for hard-coded IDs in tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		// Panic here so we don't put the program into an unknown state
		panic(err)
	}
	return id
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Time extracts the embedded UTC timestamp from the ID.
// If the ID is invalid or zero, it returns the zero time.
func (id ID) Time() time.Time {
	if id.IsZero() {
		return time.Time{}
	}

	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}

	// ULID time component is in ms since epoch.
	return ulid.Time(u.Time())
}

// Compare reports the lexical ordering between a and b.
// Returns -1 if a<b, 0 if a==b, +1 if a>b.
func Compare(a, b ID) int {
	return strings.Compare(a.String(), b.String())
}
