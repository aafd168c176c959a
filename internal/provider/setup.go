package provider

import (
	"context"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/logging"
)

// NewManagerFromConfig builds the full provider stack from configuration:
// it constructs a client for every configured backend, registers it for
// both kinds, probes connectivity, and activates the first available
// backend in preference order per kind. A manager is returned even when
// every probe fails; unavailability surfaces on first use instead.
func NewManagerFromConfig(ctx context.Context, cfg *config.Config) (*Manager, error) {
	registry := NewRegistry()
	providers := cfg.Providers

	if providers.OpenAIAPIKey != "" || providers.OpenAIEndpoint != "" {
		client := NewOpenAIClient(providers)
		display := map[string]string{
			"model":           providers.OpenAIModel,
			"embedding_model": providers.OpenAIEmbModel,
		}

		if err := registry.RegisterGeneration(client, display); err != nil {
			return nil, err
		}

		if err := registry.RegisterEmbedding(client, display); err != nil {
			return nil, err
		}
	}

	ollama := NewOllamaClient(providers)
	ollamaDisplay := map[string]string{
		"endpoint":        ollama.baseURL,
		"model":           providers.OllamaModel,
		"embedding_model": providers.OllamaEmbModel,
	}

	if err := registry.RegisterGeneration(ollama, ollamaDisplay); err != nil {
		return nil, err
	}

	if err := registry.RegisterEmbedding(ollama, ollamaDisplay); err != nil {
		return nil, err
	}

	if providers.CustomEndpoint != "" {
		client := NewCustomClient(providers)
		display := map[string]string{
			"endpoint":        providers.CustomEndpoint,
			"model":           providers.CustomModel,
			"embedding_model": providers.CustomEmbModel,
		}

		if err := registry.RegisterGeneration(client, display); err != nil {
			return nil, err
		}

		if err := registry.RegisterEmbedding(client, display); err != nil {
			return nil, err
		}
	}

	registry.ProbeAll(ctx)

	for _, kind := range []Kind{KindGeneration, KindEmbedding} {
		activateFirstAvailable(registry, kind, providers.PreferenceOrder)
	}

	manager := NewManager(registry, providers.PreferenceOrder, cfg.ProviderCallTimeout())

	return manager, nil
}

// activateFirstAvailable marks the first available backend in preference
// order as active. Nothing is activated when every backend is down.
func activateFirstAvailable(registry *Registry, kind Kind, preference []string) {
	for _, name := range preference {
		if !registry.IsAvailable(kind, name) {
			continue
		}

		if err := registry.SetActive(kind, name); err != nil {
			if !errors.IsType(err, errors.ErrTypeNotFound) {
				logging.WithError(err).Warnf("failed to activate %s provider %s", kind, name)
			}

			continue
		}

		logging.WithField("provider", name).WithField("kind", string(kind)).
			Info("activated provider")

		return
	}

	logging.WithField("kind", string(kind)).Warnf("no %s provider available", kind)
}
