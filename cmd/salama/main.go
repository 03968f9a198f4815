// Salama is a credential-safe gateway and client layer for OpenAI-compatible
// LLM backends.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "salama",
	Short: "Salama — credential-safe gateway and clients for OpenAI-compatible LLM backends.",
	Long: `Salama serves chat, completion, and embedding endpoints over OpenAI and
Azure OpenAI backends. Credentials are resolved once at construction, held
behind a masking secret type, and never appear in logs, dumps, or errors.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		goutils.Env("SALAMA_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, chatCmd, completeCmd, embedCmd, usageCmd, configCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
