package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/salama/internal/config"
)

var (
	usageConfigPath string
	usageSince      time.Duration
	usageLimit      int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded token usage",
	Long: `Summarize the usage ledger by provider and operation, then list the
most recent requests. Reads the same store the gateway writes to.

Examples:
  salama usage
  salama usage --since 168h --limit 50`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&usageConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	usageCmd.Flags().DurationVar(&usageSince, "since", 24*time.Hour, "summary window")
	usageCmd.Flags().IntVar(&usageLimit, "limit", 20, "number of recent records to list")
}

func runUsage(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("SALAMA_CONFIG", usageConfigPath))
	if err != nil {
		return err
	}
	if err := cfg.ResolveSecretRefs(context.Background()); err != nil {
		return fmt.Errorf("resolving secret refs: %w", err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	since := time.Now().UTC().Add(-usageSince)
	summaries, err := store.Usage().Summarize(ctx, since)
	if err != nil {
		return fmt.Errorf("summarizing usage: %w", err)
	}

	fmt.Printf("Usage since %s\n\n", since.Format(time.RFC3339))
	if len(summaries) == 0 {
		fmt.Println("  no requests recorded")
	} else {
		fmt.Printf("  %-14s %-11s %9s %9s %11s %9s\n",
			"PROVIDER", "OPERATION", "REQUESTS", "PROMPT", "COMPLETION", "TOTAL")
		for _, s := range summaries {
			fmt.Printf("  %-14s %-11s %9d %9d %11d %9d\n",
				s.Provider, s.Operation, s.Requests, s.PromptTokens, s.CompletionTokens, s.TotalTokens)
		}
	}

	records, err := store.Usage().Recent(ctx, usageLimit)
	if err != nil {
		return fmt.Errorf("listing recent usage: %w", err)
	}

	fmt.Printf("\nRecent requests (last %d)\n\n", usageLimit)
	if len(records) == 0 {
		fmt.Println("  none")
		return nil
	}
	fmt.Printf("  %-20s %-14s %-11s %-26s %-12s %7s %8s\n",
		"TIME", "PROVIDER", "OPERATION", "MODEL", "KEY", "TOKENS", "MS")
	for _, r := range records {
		fmt.Printf("  %-20s %-14s %-11s %-26s %-12s %7d %8d\n",
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			r.Provider, r.Operation, r.Model, r.APIKeyName, r.TotalTokens, r.DurationMS)
	}
	return nil
}
