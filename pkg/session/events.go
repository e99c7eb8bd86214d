package session

import (
	"slices"
	"sync"
	"time"
)

// EventKind distinguishes session events.
type EventKind int

const (
	// EventUpdated carries the new session after a successful write.
	EventUpdated EventKind = iota + 1
	// EventUnavailable is emitted whenever the slot stops holding a session.
	EventUnavailable
)

func (k EventKind) String() string {
	if k == EventUpdated {
		return "updated"
	}
	return "unavailable"
}

// Reason says why a session became unavailable.
type Reason string

const (
	ReasonRevoked       Reason = "revoked"
	ReasonUnrecoverable Reason = "unrecoverable"
	ReasonReset         Reason = "reset"
	ReasonReconfigured  Reason = "reconfigured"
	ReasonIntermediate  Reason = "intermediate"
)

// Event is delivered to subscribers. Session and LastValidatedAt are set for
// EventUpdated, Reason for EventUnavailable.
type Event[T Value] struct {
	Kind            EventKind
	Session         T
	LastValidatedAt time.Time
	Reason          Reason
}

// observers is a set of subscriber callbacks.
type observers[T Value] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(Event[T])
}

func (o *observers[T]) add(fn func(Event[T])) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[int]func(Event[T]))
	}
	id := o.nextID
	o.nextID++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

// emit calls every subscriber in subscription order on the caller's goroutine.
func (o *observers[T]) emit(ev Event[T]) {
	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event[T]), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
