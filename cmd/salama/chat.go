package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/salama/internal/llm"
)

var (
	chatMessage     string
	chatSystem      string
	chatMaxTokens   int
	chatTemperature float64
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send a one-shot chat message",
	Long: `Send a single chat message directly to the configured backend,
bypassing the gateway.

Credentials resolve from flags first, then the provider environment
variables (OPENAI_API_KEY, or AZURE_OPENAI_API_KEY / AZURE_OPENAI_AD_TOKEN).
The resolved key is never printed.

Examples:
  salama chat -m "what is a goroutine?"
  salama chat -m "summarize this repo" --model gpt-4o --max-tokens 256
  salama chat -m "hello" --provider azure --endpoint https://myres.openai.azure.com --deployment my-gpt4o`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "message to send (required)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "optional system prompt")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "completion token cap (0 = backend default)")
	chatCmd.Flags().Float64Var(&chatTemperature, "temperature", 0, "sampling temperature")
	registerClientFlags(chatCmd)

	_ = chatCmd.MarkFlagRequired("message")
}

func runChat(_ *cobra.Command, _ []string) error {
	model, err := newChatModel(chatMaxTokens, chatTemperature)
	if err != nil {
		return err
	}

	var messages []llm.Message
	if chatSystem != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: chatSystem})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: chatMessage})

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeoutDuration())
	defer cancel()

	resp, err := model.Chat(ctx, &llm.ChatRequest{Messages: messages})
	if err != nil {
		return err
	}

	fmt.Println(resp.Content)
	fmt.Fprintf(os.Stderr, "\n[model=%s finish=%s tokens=%d]\n",
		resp.Model, resp.FinishReason, resp.Usage.TotalTokens)
	return nil
}
