package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hypehub/task-escrow/api"
	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(catalogCmd)

	recoverCmd.Flags().Int("batch", 0, "Rows to scan (default ledger.recovery_batch)")

	tokenCmd.Flags().String("sub", "", "User id (token subject)")
	tokenCmd.Flags().String("name", "", "Display name")
	tokenCmd.Flags().String("role", "", `Role; "admin" unlocks admin routes, "wallet" may credit purchases`)
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("sub")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// RECOVER
// =============================================================================

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Settle completions that were recorded but never credited",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		batch, _ := cmd.Flags().GetInt("batch")
		if batch <= 0 {
			batch = cfg.Ledger.RecoveryBatch
		}
		report, err := a.engine.Recover(cmd.Context(), batch)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

// =============================================================================
// SEED
// =============================================================================

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the catalog's official tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		report, err := a.engine.SeedOfficialTasks(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

// =============================================================================
// TOKEN
// =============================================================================

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	Long: `Mint an HS256 token signed with auth.jwt_secret. Production tokens
come from the identity service; this is for local testing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sub, _ := cmd.Flags().GetString("sub")
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		auth, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, nil, 1)
		if err != nil {
			return err
		}
		tok, err := auth.IssueToken(escrow.UserID(sub), name, role, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, tok)
		return nil
	},
}

// =============================================================================
// CATALOG
// =============================================================================

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the effective catalog as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		return printJSON(cat.Document())
	},
}
