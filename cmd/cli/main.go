package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maithanhduyan/bibank/internal/adapter/repository/jsonl"
	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/auth"
	"github.com/maithanhduyan/bibank/internal/infrastructure/signer"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &apiOptions{}

	rootCmd := &cobra.Command{
		Use:           "bibank",
		Short:         "BiBank ledger CLI",
		Long:          `A command line interface for the BiBank ledger: offline journal tools, key management and API access.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("BIBANK_URL", "http://localhost:8080"), "Base URL of the BiBank API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("BIBANK_TOKEN"), "Bearer token for the API")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		verifyCmd(),
		replayCmd(),
		keygenCmd(),
		signCmd(),
		tokenCmd(),
		submitCmd(opts),
		approvalsCmd(opts),
		journalCmd(opts),
		migrateCmd(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// verifyCmd checks both hash chains on disk without a running server.
func verifyCmd() *cobra.Command {
	var journalPath, compliancePath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the journal and compliance ledger hash chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := loadJournal(ctx, journalPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal OK: %d entries\n", journal.Height())

			if compliancePath == "" {
				return nil
			}
			store, err := jsonl.NewComplianceStore(compliancePath)
			if err != nil {
				return err
			}
			defer store.Close()
			ledger := usecase.NewComplianceLedger(store, nil)
			if err := ledger.Load(ctx); err != nil {
				return fmt.Errorf("compliance ledger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compliance ledger OK: %d records\n", ledger.Height())
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "data/journal.jsonl", "Journal file")
	cmd.Flags().StringVar(&compliancePath, "compliance", "data/compliance.jsonl", "Compliance ledger file; empty to skip")
	return cmd
}

// replayCmd rebuilds balances from the journal and prints them.
func replayCmd() *cobra.Command {
	var journalPath, prefix string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild balances from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := loadJournal(ctx, journalPath)
			if err != nil {
				return err
			}
			risk := usecase.NewRiskEngine(nil)
			if err := risk.Rebuild(ctx, journal); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"last_applied": risk.LastApplied(),
				"balances":     risk.Balances(prefix),
			})
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "data/journal.jsonl", "Journal file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only accounts starting with this prefix")
	return cmd
}

func loadJournal(ctx context.Context, path string) (*usecase.Journal, error) {
	store, err := jsonl.NewJournalStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	journal := usecase.NewJournal(store, nil, nil)
	if err := journal.Load(ctx); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return journal, nil
}

// keygenCmd creates an ed25519 key for an approver or the system signer.
func keygenCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := signer.Generate(id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"signer_id":  s.ID(),
				"public_key": s.PublicKeyHex(),
				"seed":       s.SeedHex(),
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Signer id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// signCmd signs an approval operation hash offline.
func signCmd() *cobra.Command {
	var seed string

	cmd := &cobra.Command{
		Use:   "sign <operation-hash>",
		Short: "Sign an approval operation hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := signer.NewFromSeedHex("", seed)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.SignHex(args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&seed, "seed", os.Getenv("BIBANK_SIGNER_SEED"), "Hex ed25519 seed")
	return cmd
}

// tokenCmd mints an API token for an operator.
func tokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewJWTManager(secret, ttl).Generate(domain.Operator{ID: subject, Role: domain.Role(role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret")
	cmd.Flags().StringVar(&subject, "subject", "", "Operator id; signers must use their approval signer id")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleOperator), "admin, operator, signer or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
