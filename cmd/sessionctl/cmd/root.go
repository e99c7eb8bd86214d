package cmd

import (
	"context"
	"os"

	"github.com/aussiebroadwan/sessionkit/internal/app"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "sessionctl manages the sessions stored by sessionkit",
	Long: `Inspect and drive the secure session store used by sessionkit: configure the
public token, log in, refresh and revoke sessions and manage PKCE pairs.

Configuration is read from SESSIONKIT_* environment variables and an optional
.env file in the working directory.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text); overrides LOG_FORMAT")
}

// withApp loads the configuration, builds the application and shuts it down
// once fn returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	return fn(slogx.WithContext(ctx, a.Logger()), a)
}
