package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/salama/internal/llm"
)

var (
	completePrompt      string
	completeMaxTokens   int
	completeTemperature float64
)

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Send a one-shot text completion prompt",
	Long: `Send a prompt to the legacy completions API of the configured backend.

Examples:
  salama complete -p "Once upon a time"
  salama complete -p "def fib(n):" --max-tokens 128 --temperature 0.2`,
	RunE: runComplete,
}

func init() {
	completeCmd.Flags().StringVarP(&completePrompt, "prompt", "p", "", "prompt to complete (required)")
	completeCmd.Flags().IntVar(&completeMaxTokens, "max-tokens", 0, "completion token cap (0 = backend default)")
	completeCmd.Flags().Float64Var(&completeTemperature, "temperature", 0, "sampling temperature")
	registerClientFlags(completeCmd)

	_ = completeCmd.MarkFlagRequired("prompt")
}

func runComplete(_ *cobra.Command, _ []string) error {
	model, err := newCompletionModel(completeMaxTokens, completeTemperature)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeoutDuration())
	defer cancel()

	resp, err := model.Complete(ctx, &llm.CompletionRequest{Prompt: completePrompt})
	if err != nil {
		return err
	}

	fmt.Println(resp.Text)
	fmt.Fprintf(os.Stderr, "\n[model=%s finish=%s tokens=%d]\n",
		resp.Model, resp.FinishReason, resp.Usage.TotalTokens)
	return nil
}
