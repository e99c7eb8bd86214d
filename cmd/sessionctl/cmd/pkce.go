package cmd

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/sessionkit/internal/app"
	"github.com/aussiebroadwan/sessionkit/pkg/pkce"
	"github.com/spf13/cobra"
)

var pkceSlot string

var pkceCmd = &cobra.Command{
	Use:   "pkce",
	Short: "Manage pending PKCE pairs",
	Long:  `Generate, inspect or clear the PKCE pair held for a flow slot (consumer or b2b).`,
}

func parseSlot(s string) (pkce.Slot, error) {
	switch s {
	case string(pkce.SlotConsumer):
		return pkce.SlotConsumer, nil
	case string(pkce.SlotB2B):
		return pkce.SlotB2B, nil
	default:
		return "", fmt.Errorf("unknown pkce slot %q (want %s or %s)", s, pkce.SlotConsumer, pkce.SlotB2B)
	}
}

// pkceRun wraps a PKCE subcommand with slot parsing and the application.
func pkceRun(fn func(ctx context.Context, cmd *cobra.Command, m *pkce.Manager, slot pkce.Slot) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		slot, err := parseSlot(pkceSlot)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.Application) error {
			return fn(ctx, cmd, a.Client.PKCE(), slot)
		})
	}
}

var pkceGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new pair, replacing any pending one",
	Args:  cobra.NoArgs,
	RunE: pkceRun(func(ctx context.Context, cmd *cobra.Command, m *pkce.Manager, slot pkce.Slot) error {
		pair, err := m.Generate(ctx, slot)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "challenge: %s\nmethod:    %s\n", pair.Challenge, pair.Method)
		return nil
	}),
}

var pkceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the challenge of the pending pair",
	Args:  cobra.NoArgs,
	RunE: pkceRun(func(ctx context.Context, cmd *cobra.Command, m *pkce.Manager, slot pkce.Slot) error {
		pair, err := m.Get(ctx, slot)
		if err != nil {
			return err
		}
		if pair == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "no pending pair for %s\n", slot)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "challenge: %s\nmethod:    %s\n", pair.Challenge, pair.Method)
		return nil
	}),
}

var pkceClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the pending pair",
	Args:  cobra.NoArgs,
	RunE: pkceRun(func(ctx context.Context, cmd *cobra.Command, m *pkce.Manager, slot pkce.Slot) error {
		if err := m.Clear(ctx, slot); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", slot)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(pkceCmd)
	pkceCmd.AddCommand(pkceGenerateCmd, pkceShowCmd, pkceClearCmd)
	pkceCmd.PersistentFlags().StringVar(&pkceSlot, "slot", string(pkce.SlotConsumer), "Flow slot (consumer, b2b)")
}
