package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/askdb/askdb/internal/config"
)

// OllamaClient talks to a local Ollama server over its native HTTP API.
type OllamaClient struct {
	baseURL        string
	model          string
	embeddingModel string
	httpClient     *http.Client
}

// NewOllamaClient creates a client for the Ollama server at the configured
// endpoint. The endpoint defaults to the standard local address.
func NewOllamaClient(cfg config.ProvidersConfig) *OllamaClient {
	baseURL := cfg.OllamaEndpoint
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaClient{
		baseURL:        baseURL,
		model:          cfg.OllamaModel,
		embeddingModel: cfg.OllamaEmbModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the provider name.
func (c *OllamaClient) Name() string {
	return ProviderOllama
}

// Ollama API structures
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Probe checks that the Ollama server is reachable.
func (c *OllamaClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama server not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama server returned status %d", resp.StatusCode)
	}

	return nil
}

// Generate produces a completion for the prompt, requesting JSON format.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	}

	respBody, err := c.makeRequest(ctx, "/api/generate", reqBody)
	if err != nil {
		return "", err
	}

	var response ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if response.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

// Embed generates embeddings for the given texts. The Ollama embedding
// endpoint accepts a single prompt per call, so the texts are sent
// sequentially.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for _, text := range texts {
		reqBody := ollamaEmbeddingRequest{
			Model:  c.embeddingModel,
			Prompt: text,
		}

		respBody, err := c.makeRequest(ctx, "/api/embeddings", reqBody)
		if err != nil {
			return nil, err
		}

		var response ollamaEmbeddingResponse
		if err := json.Unmarshal(respBody, &response); err != nil {
			return nil, fmt.Errorf("failed to parse Ollama embedding response: %w", err)
		}

		if response.Error != "" {
			return nil, fmt.Errorf("Ollama API error: %s", response.Error)
		}

		if len(response.Embedding) == 0 {
			return nil, fmt.Errorf("ollama returned an empty embedding")
		}

		vector := make([]float32, len(response.Embedding))
		for i, v := range response.Embedding {
			vector[i] = float32(v)
		}

		vectors = append(vectors, vector)
	}

	return vectors, nil
}

// makeRequest makes an HTTP request to the Ollama API.
func (c *OllamaClient) makeRequest(ctx context.Context, endpoint string, reqBody interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

var (
	_ GenerationClient = (*OllamaClient)(nil)
	_ EmbeddingClient  = (*OllamaClient)(nil)
)
