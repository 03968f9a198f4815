package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/salama/internal/config"
)

var configPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and credential resolution",
	Long: `Load the configuration, resolve secret references through the provider
chain, and construct the LLM clients without sending any requests. A missing
mandatory credential is reported with the environment variable that would
satisfy it.`,
	RunE: runConfigValidate,
}

func init() {
	configCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file")
	configCmd.AddCommand(configShowCmd, configValidateCmd)
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("SALAMA_CONFIG", configPath))
	if err != nil {
		return err
	}

	out, err := cfg.Dump()
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("SALAMA_CONFIG", configPath))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cfg.ResolveSecretRefs(ctx); err != nil {
		return fmt.Errorf("resolving secret refs: %w", err)
	}

	// Construct clients without issuing requests. Surfaces a missing
	// mandatory credential as a resolution error.
	logger := newLogger()
	if _, _, _, err := buildModels(cfg, logger); err != nil {
		return err
	}

	fmt.Printf("config ok (provider: %s, storage: %s)\n",
		cfg.Providers.DefaultProvider(), cfg.StorageDriverName())
	return nil
}
