package poller_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain/drivers/memory"
	"github.com/aussiebroadwan/sessionkit/pkg/poller"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiError struct{ kind string }

func (e *apiError) Error() string     { return "api error: " + e.kind }
func (e *apiError) ErrorType() string { return e.kind }

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func mintJWT(t *testing.T, lifetime time.Duration) string {
	t.Helper()
	return mintJWTAt(t, now, lifetime)
}

func mintJWTAt(t *testing.T, issuedAt time.Time, lifetime time.Duration) string {
	t.Helper()
	claims := jwtx.NewSessionClaims("user-1", "sess-1", lifetime, "test", issuedAt)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return token
}

func userSession(id string) session.UserSession {
	return session.UserSession{
		Common: session.Common{SessionID: id, StartedAt: now, ExpiresAt: now.Add(time.Hour)},
		UserID: "user-1",
	}
}

type harness struct {
	store *session.Store[session.UserSession]
	sched *poller.ManualScheduler
	ctrl  *poller.Controller[session.UserSession]
	calls atomic.Int32
	errs  []poller.Class
}

// newHarness wires a controller whose refresher fails with each of fails in
// turn and then succeeds.
func newHarness(t *testing.T, maxRetries int, fails ...error) *harness {
	t.Helper()
	h := &harness{sched: &poller.ManualScheduler{}}
	kc := keychain.New(memory.New(), keychain.Options{})
	h.store = session.NewConsumer(kc, session.Options{Now: func() time.Time { return now }})

	refresh := func(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
		n := int(h.calls.Add(1))
		if n <= len(fails) {
			return session.UserSession{}, session.Tokens{}, fails[n-1]
		}
		return userSession("sess-refreshed"), session.Tokens{Opaque: opaque, JWT: mintJWT(t, 5*time.Minute)}, nil
	}

	h.ctrl = poller.New(h.store, refresh, h.sched, poller.Config{
		MaxRetries: maxRetries,
		Backoff:    poller.FixedBackoff{},
		OnError:    func(_ error, c poller.Class) { h.errs = append(h.errs, c) },
		Now:        clock,
	}, nil)
	h.ctrl.Attach()
	t.Cleanup(h.ctrl.Stop)
	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.UpdateSession(context.Background(), userSession("sess-1"),
		session.Tokens{Opaque: "opaque-1", JWT: mintJWT(t, 5*time.Minute)}))
}

func TestAttachStartsAndStopsWithStore(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	require.False(t, h.ctrl.Running())

	h.login(t)
	require.True(t, h.ctrl.Running())

	// 60% of a five minute JWT
	require.Equal(t, []time.Duration{3 * time.Minute}, h.sched.Active())
	require.Equal(t, 3*time.Minute, h.ctrl.CurrentInterval())

	require.NoError(t, h.store.Reset(context.Background(), session.ReasonRevoked))
	require.False(t, h.ctrl.Running())
	require.Empty(t, h.sched.Active())
}

func TestTickRefreshesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 0)
	h.login(t)

	h.sched.Fire()
	require.Equal(t, int32(1), h.calls.Load())

	sess, err := h.store.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "sess-refreshed", sess.SessionID)

	// The timer was restarted, not duplicated
	require.True(t, h.ctrl.Running())
	require.Len(t, h.sched.Active(), 1)
}

func TestRefreshClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantCleared bool
	}{
		{"unauthorized credentials", &apiError{authsdk.ErrorTypeUnauthorizedCredentials}, true},
		{"user unauthenticated", &apiError{authsdk.ErrorTypeUserUnauthenticated}, true},
		{"invalid secret", &apiError{authsdk.ErrorTypeInvalidSecretAuthentication}, true},
		{"session not found", &apiError{authsdk.ErrorTypeSessionNotFound}, true},
		{"user not found", &apiError{authsdk.ErrorTypeUserNotFound}, false},
		{"rate limited", &apiError{authsdk.ErrorTypeTooManyRequests}, false},
		{"unknown type", &apiError{"internal_server_error"}, false},
		{"transport error", errors.New("connection reset by peer"), false},
		{"timeout", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			// Fail every attempt within the tick
			h := newHarness(t, 2, tt.err, tt.err, tt.err)
			h.login(t)

			err := h.ctrl.Tick(ctx)
			require.ErrorIs(t, err, tt.err)

			opaque, err := h.store.SessionToken(ctx)
			require.NoError(t, err)
			jwtToken, err := h.store.SessionJWT(ctx)
			require.NoError(t, err)
			sess, err := h.store.Session(ctx)
			require.NoError(t, err)

			if tt.wantCleared {
				require.Empty(t, opaque)
				require.Empty(t, jwtToken)
				require.Nil(t, sess)
				require.False(t, h.ctrl.Running())
				require.Equal(t, int32(1), h.calls.Load(), "unrecoverable errors are not retried")
				require.Equal(t, []poller.Class{poller.Unrecoverable}, h.errs)
				return
			}

			require.Equal(t, "opaque-1", opaque)
			require.NotEmpty(t, jwtToken)
			require.NotNil(t, sess)
			require.Equal(t, "sess-1", sess.SessionID)
			require.True(t, h.ctrl.Running())
			require.Equal(t, int32(3), h.calls.Load(), "first attempt plus two retries")
		})
	}
}

func TestRecoverableRetrySucceedsWithinTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 3, errors.New("flaky"), errors.New("flaky"))
	h.login(t)

	require.NoError(t, h.ctrl.Tick(ctx))
	require.Equal(t, int32(3), h.calls.Load())
	require.Equal(t, []poller.Class{poller.Recoverable, poller.Recoverable}, h.errs)

	sess, err := h.store.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "sess-refreshed", sess.SessionID)
}

func TestNextTickRetriesAfterGivingUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 0, errors.New("down"))
	h.login(t)

	require.Error(t, h.ctrl.Tick(ctx))
	require.True(t, h.ctrl.Running())

	require.NoError(t, h.ctrl.Tick(ctx))
	sess, err := h.store.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "sess-refreshed", sess.SessionID)
}

func TestTickWithoutSessionStops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	h.ctrl.Start(mintJWT(t, time.Minute))
	require.True(t, h.ctrl.Running())

	require.ErrorIs(t, h.ctrl.Tick(context.Background()), poller.ErrNoSessionToken)
	require.False(t, h.ctrl.Running())
	require.Zero(t, h.calls.Load())
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	t.Parallel()
	kc := keychain.New(memory.New(), keychain.Options{})
	store := session.NewConsumer(kc, session.Options{Now: func() time.Time { return now }})
	require.NoError(t, store.UpdateSession(context.Background(), userSession("sess-1"),
		session.Tokens{Opaque: "o", JWT: mintJWT(t, time.Minute)}))

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	refresh := func(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
		calls.Add(1)
		close(entered)
		<-release
		return session.UserSession{}, session.Tokens{}, errors.New("gave up")
	}
	ctrl := poller.New(store, refresh, &poller.ManualScheduler{}, poller.Config{}, nil)

	done := make(chan error)
	go func() { done <- ctrl.Tick(context.Background()) }()
	<-entered

	// Second tick while the first is blocked in the refresher
	require.NoError(t, ctrl.Tick(context.Background()))
	close(release)
	require.Error(t, <-done)
	require.Equal(t, int32(1), calls.Load())
}

func TestStopCancelsInFlightRefresh(t *testing.T) {
	t.Parallel()
	kc := keychain.New(memory.New(), keychain.Options{})
	store := session.NewConsumer(kc, session.Options{Now: func() time.Time { return now }})
	sched := &poller.ManualScheduler{}

	entered := make(chan struct{})
	refresh := func(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
		close(entered)
		<-ctx.Done()
		return session.UserSession{}, session.Tokens{}, ctx.Err()
	}
	ctrl := poller.New(store, refresh, sched, poller.Config{MaxRetries: 5, Now: clock}, nil)
	ctrl.Attach()
	require.NoError(t, store.UpdateSession(context.Background(), userSession("sess-1"),
		session.Tokens{Opaque: "o", JWT: mintJWT(t, time.Minute)}))

	done := make(chan struct{})
	go func() {
		sched.Fire()
		close(done)
	}()
	<-entered
	ctrl.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not return after Stop")
	}

	// Cancellation is not a verdict on the credential
	tok, err := store.SessionToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "o", tok)
}

func TestRefreshLandingAfterRevokeIsDropped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		// revoke runs while the refresher is blocked
		revoke func(ctrl *poller.Controller[session.UserSession], store *session.Store[session.UserSession]) error
		attach bool
	}{
		{
			name:   "timer stopped then slot reset",
			attach: true,
			revoke: func(ctrl *poller.Controller[session.UserSession], store *session.Store[session.UserSession]) error {
				ctrl.Stop()
				return store.Reset(context.Background(), session.ReasonRevoked)
			},
		},
		{
			name: "slot reset without cancelling the tick",
			revoke: func(_ *poller.Controller[session.UserSession], store *session.Store[session.UserSession]) error {
				return store.Reset(context.Background(), session.ReasonRevoked)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			kc := keychain.New(memory.New(), keychain.Options{})
			store := session.NewConsumer(kc, session.Options{Now: clock})

			entered := make(chan struct{})
			release := make(chan struct{})
			refresh := func(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
				close(entered)
				<-release
				// The response was already on its way, whatever ctx says now
				return userSession("sess-refreshed"), session.Tokens{Opaque: "o2", JWT: mintJWT(t, 5*time.Minute)}, nil
			}
			sched := &poller.ManualScheduler{}
			ctrl := poller.New(store, refresh, sched, poller.Config{Now: clock}, nil)
			if tt.attach {
				ctrl.Attach()
			}
			t.Cleanup(ctrl.Stop)

			require.NoError(t, store.UpdateSession(ctx, userSession("sess-1"),
				session.Tokens{Opaque: "o1", JWT: mintJWT(t, 5*time.Minute)}))

			done := make(chan struct{})
			go func() {
				defer close(done)
				if tt.attach {
					sched.Fire()
					return
				}
				assert.NoError(t, ctrl.Tick(ctx))
			}()
			<-entered

			require.NoError(t, tt.revoke(ctrl, store))
			close(release)
			<-done

			sess, err := store.Session(ctx)
			require.NoError(t, err)
			require.Nil(t, sess)

			opaque, err := store.SessionToken(ctx)
			require.NoError(t, err)
			require.Empty(t, opaque)
			require.False(t, ctrl.Running())
		})
	}
}

func TestUnrecoverableVerdictOnOldTokenKeepsNewLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kc := keychain.New(memory.New(), keychain.Options{})
	store := session.NewConsumer(kc, session.Options{Now: clock})

	entered := make(chan struct{})
	release := make(chan struct{})
	refresh := func(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
		close(entered)
		<-release
		return session.UserSession{}, session.Tokens{}, &apiError{authsdk.ErrorTypeSessionNotFound}
	}
	ctrl := poller.New(store, refresh, &poller.ManualScheduler{}, poller.Config{Now: clock}, nil)

	require.NoError(t, store.UpdateSession(ctx, userSession("sess-1"),
		session.Tokens{Opaque: "o1", JWT: mintJWT(t, 5*time.Minute)}))

	done := make(chan error, 1)
	go func() { done <- ctrl.Tick(ctx) }()
	<-entered

	// A fresh login lands while the old token is being rejected
	require.NoError(t, store.UpdateSession(ctx, userSession("sess-2"),
		session.Tokens{Opaque: "o2", JWT: mintJWT(t, 5*time.Minute)}))
	close(release)
	require.Error(t, <-done)

	sess, err := store.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, "sess-2", sess.SessionID)
}

func TestStartRefreshesExpiringJWT(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		issuedAt time.Time
		wantNow  bool
	}{
		{"expired an hour ago", now.Add(-time.Hour), true},
		{"expires before the first tick", now.Add(-4 * time.Minute), true},
		{"fresh", now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, 0)

			// Persisted from an earlier run, the way a relaunch finds it
			require.NoError(t, h.store.UpdateSession(context.Background(), userSession("sess-1"),
				session.Tokens{Opaque: "opaque-1", JWT: mintJWTAt(t, tt.issuedAt, 5*time.Minute)}))
			require.Equal(t, 3*time.Minute, h.ctrl.CurrentInterval())

			if !tt.wantNow {
				require.Never(t, func() bool { return h.calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
				return
			}

			require.Eventually(t, func() bool {
				sess, err := h.store.Session(context.Background())
				return err == nil && sess != nil && sess.SessionID == "sess-refreshed"
			}, time.Second, 5*time.Millisecond)
			require.Equal(t, int32(1), h.calls.Load())
		})
	}
}

func TestRefreshWaitsForInFlightTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kc := keychain.New(memory.New(), keychain.Options{})
	store := session.NewConsumer(kc, session.Options{Now: clock})
	require.NoError(t, store.UpdateSession(ctx, userSession("sess-1"),
		session.Tokens{Opaque: "o1", JWT: mintJWT(t, 5*time.Minute)}))

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	refresh := func(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
		n := calls.Add(1)
		if n == 1 {
			close(entered)
			<-release
		}
		id := fmt.Sprintf("sess-refresh-%d", n)
		return userSession(id), session.Tokens{Opaque: opaque, JWT: mintJWT(t, 5*time.Minute)}, nil
	}
	ctrl := poller.New(store, refresh, &poller.ManualScheduler{}, poller.Config{Now: clock}, nil)

	ticked := make(chan error, 1)
	go func() { ticked <- ctrl.Tick(ctx) }()
	<-entered

	refreshed := make(chan *session.UserSession, 1)
	go func() {
		sess, err := ctrl.Refresh(ctx)
		assert.NoError(t, err)
		refreshed <- sess
	}()

	require.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-ticked)
	sess := <-refreshed
	require.NotNil(t, sess)
	require.Equal(t, "sess-refresh-2", sess.SessionID)
	require.Equal(t, int32(2), calls.Load())

	t.Run("gives up with the context", func(t *testing.T) {
		started := make(chan struct{})
		block := make(chan struct{})
		defer close(block)
		slow := poller.New(store, func(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
			close(started)
			<-block
			return session.UserSession{}, session.Tokens{}, errors.New("late")
		}, &poller.ManualScheduler{}, poller.Config{Now: clock}, nil)

		go func() { _ = slow.Tick(ctx) }()
		<-started

		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := slow.Refresh(short)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRefreshWithoutSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	_, err := h.ctrl.Refresh(context.Background())
	require.ErrorIs(t, err, poller.ErrNoSessionToken)
	require.Zero(t, h.calls.Load())
}

func TestInterval(t *testing.T) {
	t.Parallel()
	kc := keychain.New(memory.New(), keychain.Options{})
	store := session.NewConsumer(kc, session.Options{})
	ctrl := poller.New(store, nil, &poller.ManualScheduler{}, poller.Config{}, nil)

	require.Equal(t, 3*time.Minute, ctrl.Interval(mintJWT(t, 5*time.Minute)))
	require.Equal(t, 10*time.Second, ctrl.Interval(mintJWT(t, 5*time.Second)), "clamped to the minimum")
	require.Equal(t, 3*time.Minute, ctrl.Interval("not-a-jwt"), "default when unparsable")
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()
	b := poller.ExponentialBackoff{InitialInterval: time.Second, MaxInterval: 30 * time.Second, Multiplier: 2}

	require.Zero(t, b.NextInterval(0))
	require.Equal(t, time.Second, b.NextInterval(1))
	require.Equal(t, 2*time.Second, b.NextInterval(2))
	require.Equal(t, 16*time.Second, b.NextInterval(5))
	require.Equal(t, 30*time.Second, b.NextInterval(6))

	jittered := poller.DefaultBackoff()
	for range 50 {
		d := jittered.NextInterval(2)
		require.GreaterOrEqual(t, d, 1800*time.Millisecond)
		require.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func TestTickerScheduler(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	h := poller.TickerScheduler{}.Every(5*time.Millisecond, func() { n.Add(1) })

	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	h.Cancel()
	h.Cancel()

	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	require.LessOrEqual(t, n.Load(), stopped+1)
}
