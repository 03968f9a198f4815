package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/salama/internal/llm"
)

var (
	embedInputs     []string
	embedDimensions int
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed one or more input strings",
	Long: `Embed input strings with the configured backend and print the vectors
as JSON, one array per input.

Examples:
  salama embed --input "hello world"
  salama embed --input "first" --input "second" --dimensions 256`,
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().StringArrayVar(&embedInputs, "input", nil, "input to embed (repeatable, required)")
	embedCmd.Flags().IntVar(&embedDimensions, "dimensions", 0, "output dimensions (0 = model default)")
	registerClientFlags(embedCmd)

	_ = embedCmd.MarkFlagRequired("input")
}

func runEmbed(_ *cobra.Command, _ []string) error {
	model, err := newEmbeddingModel(embedDimensions)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeoutDuration())
	defer cancel()

	resp, err := model.Embed(ctx, &llm.EmbeddingRequest{
		Input:      embedInputs,
		Dimensions: embedDimensions,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, vec := range resp.Embeddings {
		if err := enc.Encode(vec); err != nil {
			return err
		}
	}

	dims := 0
	if len(resp.Embeddings) > 0 {
		dims = len(resp.Embeddings[0])
	}
	fmt.Fprintf(os.Stderr, "\n[model=%s vectors=%d dims=%d tokens=%d]\n",
		resp.Model, len(resp.Embeddings), dims, resp.Usage.TotalTokens)
	return nil
}
