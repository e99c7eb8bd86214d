package cmd

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/sessionkit/internal/app"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Apply SESSIONKIT_PUBLIC_TOKEN to the store",
	Long: `Records the fingerprint of SESSIONKIT_PUBLIC_TOKEN. If the store was last
configured with a different token every stored secret is wiped first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			if err := a.Configure(ctx); err != nil {
				return err
			}

			id, err := a.Client.InstallationID(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configured. Installation ID: %s\n", id)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(configureCmd)
}
