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

// CustomClient talks to any OpenAI-compatible HTTP endpoint, such as a
// self-hosted inference gateway. Extra headers from configuration are
// attached to every request, which covers proxies that authenticate
// with something other than a bearer token.
type CustomClient struct {
	baseURL        string
	model          string
	embeddingModel string
	apiKey         string
	headers        map[string]string
	httpClient     *http.Client
}

// NewCustomClient creates a client from provider configuration.
func NewCustomClient(cfg config.ProvidersConfig) *CustomClient {
	return &CustomClient{
		baseURL:        cfg.CustomEndpoint,
		model:          cfg.CustomModel,
		embeddingModel: cfg.CustomEmbModel,
		apiKey:         cfg.CustomAPIKey,
		headers:        cfg.CustomHeaders,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the provider name.
func (c *CustomClient) Name() string {
	return ProviderCustom
}

// OpenAI-compatible API structures
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Probe checks that the endpoint is configured and reachable.
func (c *CustomClient) Probe(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("custom provider endpoint not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("custom endpoint not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("custom endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

// Generate produces a completion for the prompt.
func (c *CustomClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
	}

	respBody, err := c.makeRequest(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var response chatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("custom provider error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from custom provider")
	}

	return response.Choices[0].Message.Content, nil
}

// Embed generates embeddings for the given texts in a single API call.
func (c *CustomClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingsRequest{
		Model: c.embeddingModel,
		Input: texts,
	}

	respBody, err := c.makeRequest(ctx, "/embeddings", reqBody)
	if err != nil {
		return nil, err
	}

	var response embeddingsResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("custom provider error: %s", response.Error.Message)
	}

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(response.Data))
	}

	// The API is allowed to return data out of order, so place each
	// vector by its index.
	vectors := make([][]float32, len(texts))
	for _, data := range response.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}

		vectors[data.Index] = data.Embedding
	}

	return vectors, nil
}

// makeRequest makes an HTTP request to the custom endpoint.
func (c *CustomClient) makeRequest(ctx context.Context, endpoint string, reqBody interface{}) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("custom provider endpoint not configured")
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

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

func (c *CustomClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}

var (
	_ GenerationClient = (*CustomClient)(nil)
	_ EmbeddingClient  = (*CustomClient)(nil)
)
