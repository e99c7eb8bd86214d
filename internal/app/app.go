// Package app wires the configuration, the secret store driver and the SDK
// client together for the command line tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/authkit"
	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	boltdriver "github.com/aussiebroadwan/sessionkit/pkg/keychain/drivers/bbolt"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain/drivers/memory"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain/drivers/sqlite"
	"github.com/aussiebroadwan/sessionkit/pkg/poller"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"
)

// BuildVersion should be set at build time via ldflags.
var BuildVersion = "v0.1.0"

// ErrNoPublicToken is returned by Configure when SESSIONKIT_PUBLIC_TOKEN is
// not set.
var ErrNoPublicToken = errors.New("SESSIONKIT_PUBLIC_TOKEN is not set")

// Application owns the SDK client for one command invocation.
type Application struct {
	cfg    Config
	logger *slog.Logger

	Client *authkit.Client
}

// New opens the configured store and builds the client. Migrations run
// here; a failure leaves nothing open.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "sessionctl",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  os.Stderr,
		}),
	}

	driver, err := app.openDriver()
	if err != nil {
		return nil, err
	}

	sealer, err := app.sealer()
	if err != nil {
		_ = driver.Close()
		return nil, err
	}

	pollerCfg := poller.DefaultConfig()
	pollerCfg.Fraction = cfg.RefreshFraction
	pollerCfg.MaxRetries = cfg.RefreshMaxRetries
	pollerCfg.OnError = func(err error, class poller.Class) {
		app.logger.Warn("background refresh failed", "class", class.String(), "error", err)
	}

	opts := authkit.Options{
		Driver:  driver,
		BaseURL: cfg.BaseURL,
		HTTPClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: slogx.NewTransport(nil, app.logger),
		},
		Limiter:                rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit))),
		SessionDurationMinutes: cfg.SessionDuration,
		Poller:                 pollerCfg,
		Logger:                 app.logger,
	}
	if sealer != nil {
		opts.Sealer = sealer
	}

	client, err := authkit.New(ctx, opts)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	app.Client = client

	return app, nil
}

func (app *Application) Logger() *slog.Logger { return app.logger }

func (app *Application) Config() Config { return app.cfg }

// Configure applies the public token from the configuration.
func (app *Application) Configure(ctx context.Context) error {
	if app.cfg.PublicToken == "" {
		return ErrNoPublicToken
	}
	return app.Client.Configure(ctx, app.cfg.PublicToken)
}

// Run configures the client and keeps refreshing sessions until ctx is
// cancelled or the process is signalled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Configure(ctx); err != nil {
		return err
	}

	unsubConsumer := app.Client.Consumer().Subscribe(logEvents[session.UserSession](app.logger))
	defer unsubConsumer()
	unsubMember := app.Client.Member().Subscribe(logEvents[session.MemberSession](app.logger))
	defer unsubMember()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.logger.Info("watching sessions",
		"consumer_refresh", app.Client.ConsumerPoller().CurrentInterval(),
		"member_refresh", app.Client.MemberPoller().CurrentInterval(),
	)

	<-ctx.Done()
	app.logger.Info("shutdown signal received")
	return nil
}

func logEvents[T session.Value](logger *slog.Logger) func(session.Event[T]) {
	return func(ev session.Event[T]) {
		var zero T
		slot := zero.Slot().String()
		switch ev.Kind {
		case session.EventUpdated:
			logger.Info("session refreshed", "slot", slot, "session_id", ev.Session.ID(), "expires_at", ev.Session.Expiry())
		case session.EventUnavailable:
			logger.Info("session unavailable", "slot", slot, "reason", string(ev.Reason))
		}
	}
}

// Shutdown stops the refresh timers and closes the store.
func (app *Application) Shutdown() error {
	if err := app.Client.Shutdown(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}
	return nil
}

func (app *Application) openDriver() (keychain.Driver, error) {
	switch app.cfg.StoreDriver {
	case DriverMemory:
		app.logger.Warn("using the in-memory store, nothing will persist")
		return memory.New(), nil
	case DriverSQLite:
		d, err := sqlite.OpenFile(app.cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return d, nil
	case DriverBBolt:
		d, err := boltdriver.Open(app.cfg.StorePath, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, app.cfg.StoreDriver)
	}
}

func (app *Application) sealer() (*cryptox.Sealer, error) {
	if !app.cfg.HasMasterKey() {
		if app.cfg.StoreDriver != DriverMemory {
			app.logger.Warn("no master key configured, stored values are not sealed")
		}
		return nil, nil
	}

	master, err := cryptox.LoadMasterKey(app.cfg.MasterKeyFile, app.cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	return cryptox.NewSealer(master, nil)
}
