package cmd

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/sessionkit/internal/app"
	"github.com/aussiebroadwan/sessionkit/pkg/migration"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending store migrations and list their status",
	Long: `Migrations run every time the store is opened; this command only makes that
explicit and prints when each migration completed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			chain := migration.NewChain(a.Logger(), migration.Builtin()...)
			status, err := chain.Status(ctx, a.Client.Keychain())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, name := range chain.Names() {
				if at := status[name]; !at.IsZero() {
					fmt.Fprintf(w, "[DONE] %s (%s)\n", name, at.Format("2006-01-02 15:04:05"))
				} else {
					fmt.Fprintf(w, "[PENDING] %s\n", name)
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
