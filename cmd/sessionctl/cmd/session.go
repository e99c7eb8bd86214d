package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionkit/internal/app"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	refreshMember bool

	revokeForce  bool
	revokeMember bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store a session",
}

var loginPasswordCmd = &cobra.Command{
	Use:   "password",
	Short: "Log in with an email and password",
	Long: `Logs in with an email and password and stores the resulting session.
The password may also be supplied through SESSIONKIT_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			password := loginPassword
			if password == "" {
				password = a.Config().Password
			}
			if loginEmail == "" || password == "" {
				return errors.New("both --email and a password are required")
			}

			if err := a.Configure(ctx); err != nil {
				return err
			}

			resp, err := a.Client.AuthenticatePassword(ctx, loginEmail, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, session %s expires %s\n",
				resp.UserID, resp.Session.SessionID, resp.Session.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-authenticate the stored session now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			if err := a.Configure(ctx); err != nil {
				return err
			}

			var id string
			var expires time.Time
			if refreshMember {
				sess, err := a.Client.RefreshMemberSession(ctx)
				if err != nil {
					return err
				}
				id, expires = sess.SessionID, sess.ExpiresAt
			} else {
				sess, err := a.Client.RefreshSession(ctx)
				if err != nil {
					return err
				}
				id, expires = sess.SessionID, sess.ExpiresAt
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed session %s, expires %s\n", id, expires.Format(time.RFC3339))
			return nil
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke the stored session",
	Long: `Revokes the stored session with the provider and clears it locally. If the
provider call fails the session is kept so the command can be retried, unless
--force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			if err := a.Configure(ctx); err != nil {
				return err
			}

			revoke := a.Client.Revoke
			if revokeMember {
				revoke = a.Client.RevokeMember
			}
			if err := revoke(ctx, revokeForce); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session revoked")
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep stored sessions refreshed until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			return a.Run(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, refreshCmd, revokeCmd, watchCmd)
	loginCmd.AddCommand(loginPasswordCmd)

	loginPasswordCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginPasswordCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")

	refreshCmd.Flags().BoolVar(&refreshMember, "member", false, "Refresh the member session instead of the consumer session")

	revokeCmd.Flags().BoolVar(&revokeForce, "force", false, "Clear the local session even if the provider call fails")
	revokeCmd.Flags().BoolVar(&revokeMember, "member", false, "Revoke the member session instead of the consumer session")
}
