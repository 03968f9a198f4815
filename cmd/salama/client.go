package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/llm/azure"
	"github.com/jkaninda/salama/internal/llm/openai"
)

// Flags shared by the one-shot client commands (chat, complete, embed).
// Credentials left empty fall back to the provider environment variables
// inside the client constructors; values are never echoed back.
var (
	clientProvider   string
	clientModel      string
	clientAPIKey     string
	clientADToken    string
	clientBaseURL    string
	clientOrg        string
	clientEndpoint   string
	clientDeployment string
	clientAPIVersion string
	clientTimeout    int
)

// registerClientFlags adds the backend selection flags to a one-shot command.
func registerClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientProvider, "provider", goutils.Env("SALAMA_PROVIDER", "openai"), "backend provider (openai, azure)")
	cmd.Flags().StringVar(&clientModel, "model", "", "model name (azure: used as the deployment when --deployment is not set)")
	cmd.Flags().StringVar(&clientAPIKey, "api-key", "", "API key (or OPENAI_API_KEY / AZURE_OPENAI_API_KEY)")
	cmd.Flags().StringVar(&clientADToken, "ad-token", "", "Azure Entra ID token (or AZURE_OPENAI_AD_TOKEN)")
	cmd.Flags().StringVar(&clientBaseURL, "base-url", "", "OpenAI-compatible base URL (or OPENAI_BASE_URL)")
	cmd.Flags().StringVar(&clientOrg, "org", "", "OpenAI organization ID (or OPENAI_ORG_ID)")
	cmd.Flags().StringVar(&clientEndpoint, "endpoint", "", "Azure resource endpoint (or AZURE_OPENAI_ENDPOINT)")
	cmd.Flags().StringVar(&clientDeployment, "deployment", "", "Azure deployment name (defaults to --model)")
	cmd.Flags().StringVar(&clientAPIVersion, "api-version", "", "Azure API version (or OPENAI_API_VERSION)")
	cmd.Flags().IntVar(&clientTimeout, "timeout", 60, "request timeout in seconds")
}

func clientTimeoutDuration() time.Duration {
	return time.Duration(clientTimeout) * time.Second
}

func clientModelOr(fallback string) string {
	if clientModel != "" {
		return clientModel
	}
	return fallback
}

// newChatModel builds a direct chat client for the selected provider.
func newChatModel(maxTokens int, temperature float64) (llm.ChatModel, error) {
	switch clientProvider {
	case "openai":
		return openai.NewChat(openai.ChatConfig{
			APIKey:       clientAPIKey,
			Model:        clientModelOr("gpt-4o-mini"),
			BaseURL:      clientBaseURL,
			Organization: clientOrg,
			MaxTokens:    maxTokens,
			Temperature:  temperature,
			Timeout:      clientTimeoutDuration(),
		}, newLogger())
	case "azure":
		return azure.NewChat(azure.ChatConfig{
			Endpoint:    clientEndpoint,
			Deployment:  clientDeployment,
			Model:       clientModel,
			APIVersion:  clientAPIVersion,
			APIKey:      clientAPIKey,
			ADToken:     clientADToken,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Timeout:     clientTimeoutDuration(),
		}, newLogger())
	default:
		return nil, fmt.Errorf("unknown provider: %q (supported: openai, azure)", clientProvider)
	}
}

// newCompletionModel builds a direct completion client for the selected provider.
func newCompletionModel(maxTokens int, temperature float64) (llm.CompletionModel, error) {
	switch clientProvider {
	case "openai":
		return openai.NewCompletion(openai.CompletionConfig{
			APIKey:       clientAPIKey,
			Model:        clientModelOr("gpt-3.5-turbo-instruct"),
			BaseURL:      clientBaseURL,
			Organization: clientOrg,
			MaxTokens:    maxTokens,
			Temperature:  temperature,
			Timeout:      clientTimeoutDuration(),
		}, newLogger())
	case "azure":
		return azure.NewCompletion(azure.CompletionConfig{
			Endpoint:    clientEndpoint,
			Deployment:  clientDeployment,
			Model:       clientModel,
			APIVersion:  clientAPIVersion,
			APIKey:      clientAPIKey,
			ADToken:     clientADToken,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Timeout:     clientTimeoutDuration(),
		}, newLogger())
	default:
		return nil, fmt.Errorf("unknown provider: %q (supported: openai, azure)", clientProvider)
	}
}

// newEmbeddingModel builds a direct embeddings client for the selected provider.
func newEmbeddingModel(dimensions int) (llm.EmbeddingModel, error) {
	switch clientProvider {
	case "openai":
		return openai.NewEmbeddings(openai.EmbeddingsConfig{
			APIKey:       clientAPIKey,
			Model:        clientModelOr("text-embedding-3-small"),
			BaseURL:      clientBaseURL,
			Organization: clientOrg,
			Dimensions:   dimensions,
			Timeout:      clientTimeoutDuration(),
		}, newLogger())
	case "azure":
		return azure.NewEmbeddings(azure.EmbeddingsConfig{
			Endpoint:   clientEndpoint,
			Deployment: clientDeployment,
			Model:      clientModel,
			APIVersion: clientAPIVersion,
			APIKey:     clientAPIKey,
			ADToken:    clientADToken,
			Dimensions: dimensions,
			Timeout:    clientTimeoutDuration(),
		}, newLogger())
	default:
		return nil, fmt.Errorf("unknown provider: %q (supported: openai, azure)", clientProvider)
	}
}
