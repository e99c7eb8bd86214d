package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aussiebroadwan/sessionkit/internal/app"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"github.com/spf13/cobra"
)

type slotStatus struct {
	Slot            string     `json:"slot"`
	State           string     `json:"state"`
	SessionID       string     `json:"session_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

type statusResult struct {
	InstallationID string       `json:"installation_id"`
	Fingerprint    string       `json:"public_token_fingerprint,omitempty"`
	Slots          []slotStatus `json:"slots"`
}

func readSlot[T session.Value](ctx context.Context, store *session.Store[T]) (slotStatus, error) {
	out := slotStatus{Slot: store.Slot().String()}

	state, err := store.State(ctx)
	if err != nil {
		return out, err
	}
	out.State = state.String()

	sess, err := store.Session(ctx)
	if err != nil {
		return out, err
	}
	if sess != nil {
		expiry := (*sess).Expiry()
		out.SessionID = (*sess).ID()
		out.ExpiresAt = &expiry

		at, err := store.LastValidatedAt(ctx)
		if err != nil {
			return out, err
		}
		out.LastValidatedAt = &at
	}
	return out, nil
}

func collectStatus(ctx context.Context, a *app.Application) (statusResult, error) {
	var res statusResult

	id, err := a.Client.InstallationID(ctx)
	if err != nil {
		return res, err
	}
	res.InstallationID = id

	res.Fingerprint, err = a.Client.Keychain().String(ctx, keychain.PublicTokenFingerprint)
	if err != nil {
		return res, err
	}

	consumer, err := readSlot(ctx, a.Client.Consumer())
	if err != nil {
		return res, err
	}
	member, err := readSlot(ctx, a.Client.Member())
	if err != nil {
		return res, err
	}
	res.Slots = []slotStatus{consumer, member}
	return res, nil
}

func printStatus(w io.Writer, res statusResult) {
	fmt.Fprintf(w, "Installation ID: %s\n", res.InstallationID)
	if res.Fingerprint == "" {
		fmt.Fprintln(w, "Public token:    not configured")
	} else {
		fmt.Fprintf(w, "Public token:    %s (fingerprint)\n", res.Fingerprint)
	}
	fmt.Fprintln(w)

	for _, s := range res.Slots {
		fmt.Fprintf(w, "[%s] %s\n", s.Slot, s.State)
		if s.SessionID != "" {
			fmt.Fprintf(w, "  session:   %s\n", s.SessionID)
			fmt.Fprintf(w, "  expires:   %s\n", s.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintf(w, "  validated: %s\n", s.LastValidatedAt.Format(time.RFC3339))
		}
	}
}

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored session state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			res, err := collectStatus(ctx, a)
			if err != nil {
				return err
			}

			if statusJSONOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printStatus(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output status as JSON")
}
