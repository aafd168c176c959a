// Package provider implements the language-model and embedding backend
// abstraction: a registry of configured backends with per-kind activation
// and availability tracking, and a manager that resolves which backend
// serves each call with a single bounded fallback hop.
package provider

import (
	"context"
	"strings"

	"github.com/askdb/askdb/internal/errors"
)

// Kind distinguishes the two capabilities a backend can offer.
type Kind string

const (
	KindGeneration Kind = "generation"
	KindEmbedding  Kind = "embedding"
)

// ParseKind converts a user-supplied kind name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(KindGeneration):
		return KindGeneration, nil
	case string(KindEmbedding):
		return KindEmbedding, nil
	default:
		return "", errors.Newf(errors.ErrTypeValidation, "unknown provider kind %q", name).
			WithSuggestion(`Use "generation" or "embedding"`)
	}
}

// Provider name constants for the supported backends
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderCustom = "custom"
)

// GenerationClient is a backend capable of text generation.
type GenerationClient interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	Probe(ctx context.Context) error
}

// EmbeddingClient is a backend capable of producing embedding vectors.
type EmbeddingClient interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Probe(ctx context.Context) error
}

// Descriptor identifies one registered backend instance. Config carries
// non-secret connection parameters for display purposes only.
type Descriptor struct {
	Name            string            `json:"name"`
	Kind            Kind              `json:"kind"`
	Available       bool              `json:"available"`
	AvailableReason string            `json:"available_reason,omitempty"`
	Active          bool              `json:"active"`
	Config          map[string]string `json:"config,omitempty"`
}
