package provider

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/askdb/askdb/internal/config"
)

// OpenAIClient implements both generation and embedding against the
// OpenAI API (or any OpenAI-compatible endpoint via a base URL override).
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
}

// NewOpenAIClient creates a client from provider configuration.
func NewOpenAIClient(cfg config.ProvidersConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIEndpoint != "" {
		clientConfig.BaseURL = cfg.OpenAIEndpoint
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientConfig),
		chatModel:      cfg.OpenAIModel,
		embeddingModel: cfg.OpenAIEmbModel,
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return ProviderOpenAI
}

// Probe performs a lightweight connectivity check.
func (c *OpenAIClient) Probe(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai connectivity check failed: %w", err)
	}

	return nil
}

// Generate produces a completion for the prompt, requesting JSON output.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}

// Embed generates embeddings for the given texts in a single API call.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

var (
	_ GenerationClient = (*OpenAIClient)(nil)
	_ EmbeddingClient  = (*OpenAIClient)(nil)
)
