package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"memorial-credits/internal/app"
	"memorial-credits/internal/config"
	"memorial-credits/internal/payments"
	"memorial-credits/internal/wallet"
	"memorial-credits/migrations"
	"memorial-credits/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "Operate the memorial credit ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(), balanceCmd(), grantCmd(), reconcileCmd(), sweepCmd(), orphansCmd())
	return root
}

// withApp loads config, opens dependencies, and runs fn with them.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.App.Env, "walletctl")
	ctx := logger.With(cmd.Context(), log)

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseOwner(typ, id string) (wallet.Owner, error) {
	t, err := wallet.ParseOwnerType(typ)
	if err != nil {
		return wallet.Owner{}, err
	}
	return wallet.Owner{Type: t, ID: id}, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				applied, err := migrations.Apply(ctx, a.DB)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
					return nil
				}
				for _, v := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
				}
				return nil
			})
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <owner_type> <owner_id>",
		Short: "Show a wallet balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(args[0], args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				bal, err := a.Wallet.GetBalance(ctx, owner)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"owner": owner, "balance": bal})
			})
		},
	}
}

func grantCmd() *cobra.Command {
	var key, note, actorID string
	cmd := &cobra.Command{
		Use:   "grant <owner_type> <owner_id> <credits>",
		Short: "Credit a wallet by hand (idempotent by --key)",
		Long: `Credit a wallet outside the payment flow, e.g. to restore credits lost
before the ledger existed. Re-running with the same --key never credits twice.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(args[0], args[1])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("credits must be a positive integer, got %q", args[2])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Wallet.Grant(ctx, wallet.GrantRequest{
					Owner:          owner,
					Amount:         amount,
					IdempotencyKey: key,
					Note:           note,
					ActorID:        actorID,
					ActorRole:      "operator",
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (required)")
	cmd.Flags().StringVar(&note, "note", "", "reason recorded on the ledger entry")
	cmd.Flags().StringVar(&actorID, "actor", "walletctl", "operator id recorded on the entry")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <payer_identity>",
		Short: "Credit parked payments for a payer that now has an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Reconcile.Reconcile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"payer_identity": payments.NormalizeIdentity(args[0]), "credits": n})
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile every payer with parked payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Reconcile.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func orphansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans <payer_identity>",
		Short: "List payments parked for a payer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rec, ok, err := a.Orphans.Record(ctx, payments.NormalizeIdentity(args[0]))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no parked payments")
					return nil
				}
				return printJSON(cmd, rec)
			})
		},
	}
}
