package provider

import (
	"context"
	"time"

	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/logging"
	"github.com/askdb/askdb/internal/observability"
)

// Manager decides which concrete backend executes each call. Resolution
// order is explicit name, then the active backend, then the configured
// preference order. On a failure from the resolved backend, execution
// retries exactly once against the next-best available backend; a second
// failure surfaces the original error wrapped with both names attempted.
type Manager struct {
	registry    *Registry
	preference  []string
	callTimeout time.Duration
}

// NewManager creates a manager over a registry. The preference order is
// operator configuration, not hardcoded: it lets local backends be
// prioritized for sensitive data.
func NewManager(registry *Registry, preference []string, callTimeout time.Duration) *Manager {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	return &Manager{
		registry:    registry,
		preference:  preference,
		callTimeout: callTimeout,
	}
}

// Registry exposes the underlying registry for administration calls.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Resolve picks the backend name that should serve the next call of the
// given kind. An explicit name is honored only if available.
func (m *Manager) Resolve(kind Kind, explicitName string) (string, error) {
	if explicitName != "" {
		if !m.registry.IsRegistered(kind, explicitName) {
			return "", errors.Newf(
				errors.ErrTypeProviderUnavailable,
				"provider %q not registered for kind %s", explicitName, kind,
			)
		}

		if !m.registry.IsAvailable(kind, explicitName) {
			return "", errors.Newf(
				errors.ErrTypeProviderUnavailable,
				"provider %q is not available", explicitName,
			)
		}

		return explicitName, nil
	}

	if active, ok := m.registry.Active(kind); ok && m.registry.IsAvailable(kind, active) {
		return active, nil
	}

	for _, name := range m.preference {
		if m.registry.IsAvailable(kind, name) {
			return name, nil
		}
	}

	return "", errors.Newf(errors.ErrTypeNoProviderAvailable, "no %s provider available", kind)
}

// nextBest returns the first available backend in preference order that
// differs from the excluded name.
func (m *Manager) nextBest(kind Kind, exclude string) (string, bool) {
	for _, name := range m.preference {
		if name == exclude {
			continue
		}

		if m.registry.IsAvailable(kind, name) {
			return name, true
		}
	}

	return "", false
}

// Generate resolves a generation backend and executes the prompt against
// it, applying the per-call timeout and the single fallback hop. Returns
// the generated text and the name of the backend that served the call.
func (m *Manager) Generate(ctx context.Context, prompt, explicitName string) (string, string, error) {
	primary, err := m.Resolve(KindGeneration, explicitName)
	if err != nil {
		return "", "", err
	}

	text, err := m.generateOnce(ctx, primary, prompt)
	if err == nil {
		return text, primary, nil
	}

	firstErr := err

	fallback, ok := m.nextBest(KindGeneration, primary)
	if !ok {
		return "", "", errors.Wrapf(
			firstErr,
			errors.ErrTypeProviderExecution,
			"generation failed on %q with no fallback available", primary,
		)
	}

	observability.RecordFallback(primary, fallback, string(KindGeneration))
	logging.WithField("from", primary).WithField("to", fallback).
		Info("generation provider failed, taking fallback hop")

	text, err = m.generateOnce(ctx, fallback, prompt)
	if err != nil {
		return "", "", errors.Wrapf(
			firstErr,
			errors.ErrTypeProviderExecution,
			"generation failed on %q and fallback %q", primary, fallback,
		)
	}

	return text, fallback, nil
}

func (m *Manager) generateOnce(ctx context.Context, name, prompt string) (string, error) {
	client, ok := m.registry.generationClient(name)
	if !ok {
		return "", errors.Newf(errors.ErrTypeProviderUnavailable, "provider %q not registered", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	text, err := client.Generate(callCtx, prompt)
	if err != nil {
		observability.RecordProviderCall(name, string(KindGeneration), "error")
		return "", err
	}

	observability.RecordProviderCall(name, string(KindGeneration), "ok")

	return text, nil
}

// Embed resolves an embedding backend and embeds the texts, with the
// same timeout and single-hop fallback semantics as Generate.
func (m *Manager) Embed(ctx context.Context, texts []string, explicitName string) ([][]float32, string, error) {
	primary, err := m.Resolve(KindEmbedding, explicitName)
	if err != nil {
		return nil, "", err
	}

	vectors, err := m.embedOnce(ctx, primary, texts)
	if err == nil {
		return vectors, primary, nil
	}

	firstErr := err

	fallback, ok := m.nextBest(KindEmbedding, primary)
	if !ok {
		return nil, "", errors.Wrapf(
			firstErr,
			errors.ErrTypeProviderExecution,
			"embedding failed on %q with no fallback available", primary,
		)
	}

	observability.RecordFallback(primary, fallback, string(KindEmbedding))
	logging.WithField("from", primary).WithField("to", fallback).
		Info("embedding provider failed, taking fallback hop")

	vectors, err = m.embedOnce(ctx, fallback, texts)
	if err != nil {
		return nil, "", errors.Wrapf(
			firstErr,
			errors.ErrTypeProviderExecution,
			"embedding failed on %q and fallback %q", primary, fallback,
		)
	}

	return vectors, fallback, nil
}

// EmbedQuery embeds a single text.
func (m *Manager) EmbedQuery(ctx context.Context, text, explicitName string) ([]float32, string, error) {
	vectors, name, err := m.Embed(ctx, []string{text}, explicitName)
	if err != nil {
		return nil, "", err
	}

	if len(vectors) != 1 {
		return nil, "", errors.Newf(
			errors.ErrTypeProviderExecution,
			"expected 1 embedding from %q, got %d", name, len(vectors),
		)
	}

	return vectors[0], name, nil
}

func (m *Manager) embedOnce(ctx context.Context, name string, texts []string) ([][]float32, error) {
	client, ok := m.registry.embeddingClient(name)
	if !ok {
		return nil, errors.Newf(errors.ErrTypeProviderUnavailable, "provider %q not registered", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	vectors, err := client.Embed(callCtx, texts)
	if err != nil {
		observability.RecordProviderCall(name, string(KindEmbedding), "error")
		return nil, err
	}

	if len(vectors) != len(texts) {
		observability.RecordProviderCall(name, string(KindEmbedding), "error")
		return nil, errors.Newf(
			errors.ErrTypeProviderExecution,
			"expected %d embeddings from %q, got %d", len(texts), name, len(vectors),
		)
	}

	observability.RecordProviderCall(name, string(KindEmbedding), "ok")

	return vectors, nil
}
