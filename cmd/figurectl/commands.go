package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"figureworks/internal/domain"
	"figureworks/internal/middleware"
)

func newRootCmd(env *cliEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "figurectl",
		Short:         "Operate the figure generation service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(creditsCmd(env), figureCmd(env), apiKeyCmd(env), schemaCmd(env), tokenCmd())
	return root
}

func creditsCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{Use: "credits", Short: "Inspect and grant credits"}

	grant := &cobra.Command{
		Use:   "grant <user-id> <credits>",
		Short: "Add credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("credits must be a positive integer, got %q", args[1])
			}
			ref, _ := cmd.Flags().GetString("ref")
			if ref == "" {
				ref = "admin-" + uuid.NewString()
			}
			if err := env.open(cmd.Context()); err != nil {
				return err
			}
			balance, applied, err := env.ledger.Credit(cmd.Context(), domain.TopUp{
				UserID:        args[0],
				ExternalTxnID: ref,
				Credits:       n,
			})
			if err != nil {
				return err
			}
			if !applied {
				fmt.Fprintf(cmd.OutOrStdout(), "grant %s already applied, balance %d\n", ref, balance)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance %d\n", n, args[0], balance)
			return nil
		},
	}
	grant.Flags().String("ref", "", "idempotency reference; reusing it makes the grant a no-op")

	balance := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.open(cmd.Context()); err != nil {
				return err
			}
			b, err := env.ledger.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", args[0], b)
			return nil
		},
	}

	cmd.AddCommand(grant, balance)
	return cmd
}

func figureCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{Use: "figure", Short: "Inspect figures"}
	status := &cobra.Command{
		Use:   "status <figure-id>",
		Short: "Print a figure record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.open(cmd.Context()); err != nil {
				return err
			}
			fig, err := env.figures.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fig)
		},
	}
	cmd.AddCommand(status)
	return cmd
}

func apiKeyCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage image provider keys"}
	set := &cobra.Command{
		Use:   "set <openai|qwen> [key]",
		Short: "Store a provider key; reads FIGURE_API_KEY when key is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("FIGURE_API_KEY")
			if len(args) == 2 {
				key = args[1]
			}
			if err := env.open(cmd.Context()); err != nil {
				return err
			}
			props := map[string]any{"updated_by": "figurectl", "updated_at": time.Now().UTC().Format(time.RFC3339)}
			if err := env.tokens.SetToken(cmd.Context(), args[0], key, props); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s key stored\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(set)
	return cmd
}

func schemaCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create tables, indexes and the status trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.ensureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				secret = os.Getenv("AUTH_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or AUTH_JWT_SECRET is required")
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := middleware.SignJWT(secret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "HS256 secret (defaults to AUTH_JWT_SECRET)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
