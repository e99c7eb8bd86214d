// Package poller keeps a slot's session JWT fresh by re-authenticating the
// stored opaque token on a timer.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
)

// ErrNoSessionToken is returned by Tick when the slot holds no opaque token.
var ErrNoSessionToken = errors.New("poller: no session token to refresh")

// Refresher re-authenticates opaque and returns the refreshed session.
type Refresher[T session.Value] func(ctx context.Context, opaque string) (T, session.Tokens, error)

// Config tunes a Controller. Zero values get defaults.
type Config struct {
	// Fraction of the JWT lifetime to wait between refreshes.
	Fraction float64

	// DefaultInterval is used when the JWT cannot be parsed.
	DefaultInterval time.Duration

	// MinInterval is the floor for the derived interval.
	MinInterval time.Duration

	// MaxRetries is how many times a recoverable failure is retried within
	// one tick.
	MaxRetries int

	Backoff Backoff

	// Timeout bounds each refresh call.
	Timeout time.Duration

	Table Table

	// OnError, if set, sees every failed refresh attempt with its class.
	// Nothing else surfaces background failures.
	OnError func(err error, class Class)

	// Now is the clock used to judge how much of a JWT is left.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Fraction <= 0 || c.Fraction > 1 {
		c.Fraction = 0.6
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 3 * time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff()
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Table == nil {
		c.Table = DefaultTable()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// DefaultConfig returns the production settings, three retries included.
func DefaultConfig() Config {
	return Config{MaxRetries: 3}.withDefaults()
}

// Controller drives the refresh loop for one session slot. At most one
// refresh runs at a time: an overlapping tick is skipped and Refresh waits
// its turn.
type Controller[T session.Value] struct {
	store   *session.Store[T]
	refresh Refresher[T]
	sched   Scheduler
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	handle   Handle
	cancel   context.CancelFunc
	interval time.Duration

	// busy holds a token while a refresh is in flight.
	busy        chan struct{}
	unsubscribe func()
}

// New creates a Controller. It does nothing until Start or Attach.
func New[T session.Value](store *session.Store[T], refresh Refresher[T], sched Scheduler, cfg Config, logger *slog.Logger) *Controller[T] {
	if sched == nil {
		sched = TickerScheduler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller[T]{
		store:   store,
		refresh: refresh,
		sched:   sched,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "poller", "slot", store.Slot().String()),
		busy:    make(chan struct{}, 1),
	}
}

// Attach follows the store: every session update restarts the timer and
// every clear stops it.
func (c *Controller[T]) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		return
	}

	c.unsubscribe = c.store.Subscribe(func(ev session.Event[T]) {
		switch ev.Kind {
		case session.EventUpdated:
			jwt, err := c.store.SessionJWT(context.Background())
			if err != nil {
				c.logger.Error("reading session jwt", "error", err)
				return
			}
			c.Start(jwt)
		case session.EventUnavailable:
			c.Stop()
		}
	})
}

// Detach stops following the store. The timer is left as it is.
func (c *Controller[T]) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// Interval derives the refresh interval from jwt's lifetime.
func (c *Controller[T]) Interval(jwt string) time.Duration {
	lifetime, err := jwtx.Lifetime(jwt)
	if err != nil {
		c.logger.Warn("cannot read jwt lifetime, using default interval", "error", err)
		return c.cfg.DefaultInterval
	}

	d := time.Duration(float64(lifetime) * c.cfg.Fraction)
	if d < c.cfg.MinInterval {
		d = c.cfg.MinInterval
	}
	return d
}

// Start (re)starts the timer for jwt. A running timer is replaced. A JWT
// that is already expired, or expires before the first tick would fire, is
// refreshed straight away.
func (c *Controller[T]) Start(jwt string) {
	interval := c.Interval(jwt)
	due := c.expiresWithin(jwt, interval)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.interval = interval
	c.handle = c.sched.Every(interval, func() {
		_ = c.Tick(ctx)
	})

	c.logger.Debug("refresh timer started", "interval", interval, "refresh_now", due)
	if due {
		go func() { _ = c.Tick(ctx) }()
	}
}

func (c *Controller[T]) expiresWithin(jwt string, d time.Duration) bool {
	claims, err := jwtx.ParseUnverified(jwt)
	if err != nil {
		return false
	}
	return claims.Remaining(c.cfg.Now()) < d
}

// Stop cancels the timer and any in-flight refresh.
func (c *Controller[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		c.logger.Debug("refresh timer stopped")
	}
	c.stopLocked()
}

func (c *Controller[T]) stopLocked() {
	if c.handle != nil {
		c.handle.Cancel()
		c.handle = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.interval = 0
}

// Running reports whether the timer is active.
func (c *Controller[T]) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// CurrentInterval returns the active timer interval, or zero.
func (c *Controller[T]) CurrentInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Tick runs one refresh. Recoverable failures are retried with backoff up
// to MaxRetries and leave the session untouched. An unrecoverable failure
// clears the slot and stops the timer. A result that arrives after ctx is
// cancelled, or after the slot has changed, is dropped.
func (c *Controller[T]) Tick(ctx context.Context) error {
	select {
	case c.busy <- struct{}{}:
	default:
		c.logger.Debug("refresh already in flight, skipping tick")
		return nil
	}
	defer func() { <-c.busy }()

	opaque, gen, err := c.store.SessionTokenGen(ctx)
	if err != nil {
		return err
	}
	if opaque == "" {
		c.Stop()
		return ErrNoSessionToken
	}

	for attempt := 0; ; attempt++ {
		sess, tokens, err := c.call(ctx, opaque)
		if err == nil {
			return c.commit(ctx, gen, sess, tokens)
		}

		class := c.cfg.Table.Classify(err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err, class)
		}

		if class == Unrecoverable {
			return c.evict(ctx, gen, err)
		}

		if ctx.Err() != nil {
			return err
		}
		if attempt >= c.cfg.MaxRetries {
			c.logger.Warn("session refresh failed, will retry next tick", "attempts", attempt+1, "error", err)
			return err
		}

		delay := c.cfg.Backoff.NextInterval(attempt + 1)
		c.logger.Debug("session refresh failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Refresh re-authenticates the slot's session now, once, and returns the
// refreshed session. It waits for an in-flight tick to finish first. An
// unrecoverable failure clears the slot the same way a tick would.
func (c *Controller[T]) Refresh(ctx context.Context) (*T, error) {
	select {
	case c.busy <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.busy }()

	opaque, gen, err := c.store.SessionTokenGen(ctx)
	if err != nil {
		return nil, err
	}
	if opaque == "" {
		return nil, ErrNoSessionToken
	}

	sess, tokens, err := c.call(ctx, opaque)
	if err != nil {
		if c.cfg.Table.Classify(err) == Unrecoverable {
			return nil, c.evict(ctx, gen, err)
		}
		return nil, err
	}

	if err := c.store.UpdateSessionIf(ctx, gen, sess, tokens); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Controller[T]) call(ctx context.Context, opaque string) (T, session.Tokens, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.refresh(callCtx, opaque)
}

// commit stores a refreshed session unless the tick was cancelled or the
// slot moved past gen while the call was out.
func (c *Controller[T]) commit(ctx context.Context, gen uint64, sess T, tokens session.Tokens) error {
	if ctx.Err() != nil {
		c.logger.Debug("refresh cancelled, dropping result")
		return nil
	}

	err := c.store.UpdateSessionIf(ctx, gen, sess, tokens)
	if errors.Is(err, session.ErrStale) {
		c.logger.Debug("slot changed during refresh, dropping result")
		return nil
	}
	return err
}

// evict clears the slot after the credential read at gen was rejected. A
// slot that has since moved on is left alone.
func (c *Controller[T]) evict(ctx context.Context, gen uint64, cause error) error {
	err := c.store.ResetIf(context.WithoutCancel(ctx), gen, session.ReasonUnrecoverable)
	if errors.Is(err, session.ErrStale) {
		c.logger.Debug("slot changed during refresh, keeping it", "error", cause)
		return cause
	}

	c.logger.Warn("session refresh rejected, clearing session", "error", cause)
	c.Stop()
	return errors.Join(cause, err)
}
