// Package authkit is the client context of the SDK. One Client owns the
// secure item store, both session slots, the PKCE manager, the API client and
// the refresh controllers; construct it once at startup and pass it around.
package authkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/idx"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"github.com/aussiebroadwan/sessionkit/pkg/migration"
	"github.com/aussiebroadwan/sessionkit/pkg/pkce"
	"github.com/aussiebroadwan/sessionkit/pkg/poller"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured is returned by every network call before Configure.
	ErrNotConfigured = errors.New("authkit: client is not configured with a public token")

	// ErrNoActiveSession is returned when a call needs a session token and
	// the slot holds none.
	ErrNoActiveSession = errors.New("authkit: no active session")

	// ErrNoIntermediateSession is returned by ExchangeIntermediate when no
	// usable intermediate session token is stored.
	ErrNoIntermediateSession = errors.New("authkit: no intermediate session")
)

// Options configures a Client. Only Driver is required.
type Options struct {
	// Driver is the secret store backing every persisted item.
	Driver keychain.Driver

	Sealer   keychain.Sealer
	Prompter keychain.Prompter

	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter

	// SessionDurationMinutes is requested on every authenticate call.
	SessionDurationMinutes int

	// Scheduler drives both refresh controllers. Defaults to real tickers.
	Scheduler poller.Scheduler
	Poller    poller.Config

	IntermediateTTL time.Duration

	// Migrations replaces the built-in migration chain. Leave nil outside
	// tests.
	Migrations []migration.Migration

	// Random is the entropy source for PKCE verifiers.
	Random io.Reader

	Logger *slog.Logger
	Now    func() time.Time
}

// Client is the SDK context.
type Client struct {
	kc       *keychain.Store
	consumer *session.Store[session.UserSession]
	member   *session.Store[session.MemberSession]
	pkce     *pkce.Manager
	logger   *slog.Logger

	consumerPoller *poller.Controller[session.UserSession]
	memberPoller   *poller.Controller[session.MemberSession]

	mu   sync.RWMutex
	base authsdk.Client
	api  *authsdk.Client
}

// New builds the client and runs the migration chain against the store. A
// migration failure is returned and the client is not usable.
//
// The client makes no network calls until Configure.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Driver == nil {
		return nil, errors.New("authkit: a keychain driver is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authkit")

	kc := keychain.New(opts.Driver, keychain.Options{
		Sealer:   opts.Sealer,
		Prompter: opts.Prompter,
		Logger:   logger,
		Now:      opts.Now,
	})

	migrations := opts.Migrations
	if migrations == nil {
		migrations = migration.Builtin()
	}
	if _, err := migration.NewChain(logger, migrations...).Run(ctx, kc); err != nil {
		return nil, err
	}

	sessOpts := session.Options{Logger: logger, Now: opts.Now, IntermediateTTL: opts.IntermediateTTL}

	pkceOpts := []pkce.Option{pkce.WithLogger(logger)}
	if opts.Random != nil {
		pkceOpts = append(pkceOpts, pkce.WithRandom(opts.Random))
	}

	cfg := opts.Poller
	if cfg.Now == nil {
		cfg.Now = opts.Now
	}

	base := authsdk.NewClient(opts.BaseURL, "")
	base.Logger = logger
	if opts.HTTPClient != nil {
		base.HTTPClient = opts.HTTPClient
	}
	if opts.Limiter != nil {
		base.Limiter = opts.Limiter
	}
	if opts.SessionDurationMinutes > 0 {
		base.SessionDurationMinutes = opts.SessionDurationMinutes
	}

	c := &Client{
		kc:       kc,
		consumer: session.NewConsumer(kc, sessOpts),
		member:   session.NewMember(kc, sessOpts),
		pkce:     pkce.New(kc, pkceOpts...),
		logger:   logger,
		base:     *base,
	}

	c.consumerPoller = poller.New(c.consumer, c.refreshConsumer, opts.Scheduler, cfg, logger)
	c.memberPoller = poller.New(c.member, c.refreshMember, opts.Scheduler, cfg, logger)
	c.consumerPoller.Attach()
	c.memberPoller.Attach()

	return c, nil
}

// Configure sets the public token. When the token differs from the one this
// installation was last configured with, the whole store is wiped first.
// Configuring again with the same token leaves stored secrets alone and
// resumes refreshing any persisted session.
func (c *Client) Configure(ctx context.Context, publicToken string) error {
	if publicToken == "" {
		return fmt.Errorf("authkit: configure: %w", ErrNotConfigured)
	}

	fingerprint := cryptox.FingerprintToken(publicToken)
	stored, err := c.kc.String(ctx, keychain.PublicTokenFingerprint)
	if err != nil {
		return fmt.Errorf("reading public token fingerprint: %w", err)
	}

	if stored != "" && stored != fingerprint {
		c.logger.Info("public token changed, resetting store", "fingerprint", fingerprint)
		if err := c.reset(ctx); err != nil {
			return err
		}
	}
	if stored != fingerprint {
		if err := c.kc.SetString(ctx, fingerprint, keychain.PublicTokenFingerprint); err != nil {
			return fmt.Errorf("writing public token fingerprint: %w", err)
		}
	}

	installID, err := c.InstallationID(ctx)
	if err != nil {
		return err
	}

	api := c.base
	api.PublicToken = publicToken
	api.InstallationID = installID

	c.mu.Lock()
	c.api = &api
	c.mu.Unlock()

	c.logger.Info("configured", "fingerprint", fingerprint, "installation_id", installID)

	return c.resume(ctx)
}

// reset wipes the store. Pollers stop through the Unavailable events.
func (c *Client) reset(ctx context.Context) error {
	if err := c.kc.Reset(ctx); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	return errors.Join(
		c.consumer.Reset(ctx, session.ReasonReconfigured),
		c.member.Reset(ctx, session.ReasonReconfigured),
	)
}

// resume restarts refreshing for sessions persisted by a previous run.
func (c *Client) resume(ctx context.Context) error {
	if sess, err := c.consumer.Session(ctx); err != nil {
		return err
	} else if sess != nil {
		jwt, err := c.consumer.SessionJWT(ctx)
		if err != nil {
			return err
		}
		c.consumerPoller.Start(jwt)
	}

	if sess, err := c.member.Session(ctx); err != nil {
		return err
	} else if sess != nil {
		jwt, err := c.member.SessionJWT(ctx)
		if err != nil {
			return err
		}
		c.memberPoller.Start(jwt)
	}
	return nil
}

// InstallationID returns the id of this installation, creating it on first
// use. It is cleared with the rest of the store when the public token
// changes.
func (c *Client) InstallationID(ctx context.Context) (string, error) {
	id, err := c.kc.String(ctx, keychain.InstallationID)
	if err != nil {
		return "", fmt.Errorf("reading installation id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	id = idx.Installation()
	if err := c.kc.SetString(ctx, id, keychain.InstallationID); err != nil {
		return "", fmt.Errorf("writing installation id: %w", err)
	}
	return id, nil
}

// API returns the configured API client.
func (c *Client) API() (*authsdk.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	return c.api, nil
}

// Keychain returns the underlying secure item store.
func (c *Client) Keychain() *keychain.Store { return c.kc }

func (c *Client) Consumer() *session.Store[session.UserSession] { return c.consumer }

func (c *Client) Member() *session.Store[session.MemberSession] { return c.member }

func (c *Client) PKCE() *pkce.Manager { return c.pkce }

func (c *Client) ConsumerPoller() *poller.Controller[session.UserSession] { return c.consumerPoller }

func (c *Client) MemberPoller() *poller.Controller[session.MemberSession] { return c.memberPoller }

// Shutdown stops both refresh controllers and closes the store. The client
// must not be used afterwards.
func (c *Client) Shutdown() error {
	for _, p := range []interface {
		Detach()
		Stop()
	}{c.consumerPoller, c.memberPoller} {
		p.Detach()
		p.Stop()
	}
	return c.kc.Close()
}
