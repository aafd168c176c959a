package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/logging"
)

// registration pairs a descriptor with the client that backs it. Exactly
// one of generation/embedding is non-nil, matching the descriptor kind.
type registration struct {
	descriptor Descriptor
	generation GenerationClient
	embedding  EmbeddingClient
}

// Registry holds the configured backends per kind. Availability and
// active flags are shared mutable state read by every request; all
// mutation happens under the mutex, and the mutex is never held across
// a network call.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]*registration
	active  map[Kind]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: map[Kind]map[string]*registration{
			KindGeneration: {},
			KindEmbedding:  {},
		},
		active: make(map[Kind]string),
	}
}

// RegisterGeneration adds a text-generation backend.
func (r *Registry) RegisterGeneration(client GenerationClient, cfg map[string]string) error {
	if client == nil {
		return errors.New(errors.ErrTypeConfiguration, "generation client cannot be nil")
	}

	return r.register(KindGeneration, client.Name(), &registration{
		descriptor: Descriptor{
			Name:            client.Name(),
			Kind:            KindGeneration,
			AvailableReason: "not probed",
			Config:          cfg,
		},
		generation: client,
	})
}

// RegisterEmbedding adds an embedding backend.
func (r *Registry) RegisterEmbedding(client EmbeddingClient, cfg map[string]string) error {
	if client == nil {
		return errors.New(errors.ErrTypeConfiguration, "embedding client cannot be nil")
	}

	return r.register(KindEmbedding, client.Name(), &registration{
		descriptor: Descriptor{
			Name:            client.Name(),
			Kind:            KindEmbedding,
			AvailableReason: "not probed",
			Config:          cfg,
		},
		embedding: client,
	})
}

func (r *Registry) register(kind Kind, name string, reg *registration) error {
	if name == "" {
		return errors.New(errors.ErrTypeConfiguration, "provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[kind][name]; exists {
		return errors.Newf(
			errors.ErrTypeConfiguration,
			"provider %q already registered for kind %s", name, kind,
		)
	}

	r.entries[kind][name] = reg

	return nil
}

// Probe invokes the backend's connectivity check and records the result.
// Probe never returns an error: failures feed availability, not control
// flow. The returned descriptor reflects the post-probe state.
func (r *Registry) Probe(ctx context.Context, kind Kind, name string) Descriptor {
	r.mu.RLock()
	reg, ok := r.entries[kind][name]
	r.mu.RUnlock()

	if !ok {
		return Descriptor{
			Name:            name,
			Kind:            kind,
			AvailableReason: "not registered",
		}
	}

	// Network call outside the lock
	var err error

	switch {
	case reg.generation != nil:
		err = reg.generation.Probe(ctx)
	case reg.embedding != nil:
		err = reg.embedding.Probe(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		reg.descriptor.Available = false
		reg.descriptor.AvailableReason = err.Error()
		logging.WithField("provider", name).WithField("kind", string(kind)).
			Warnf("provider probe failed: %v", err)
	} else {
		reg.descriptor.Available = true
		reg.descriptor.AvailableReason = ""
	}

	return r.snapshotLocked(kind, name, reg)
}

// ProbeAll probes every registered backend of every kind.
func (r *Registry) ProbeAll(ctx context.Context) {
	r.mu.RLock()

	type target struct {
		kind Kind
		name string
	}

	var targets []target

	for kind, byName := range r.entries {
		for name := range byName {
			targets = append(targets, target{kind: kind, name: name})
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		r.Probe(ctx, t.kind, t.name)
	}
}

// SetActive flips the active backend for a kind. Exactly one backend per
// kind is active at a time; activating one deactivates the previous.
func (r *Registry) SetActive(kind Kind, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[kind][name]
	if !ok {
		return errors.Newf(errors.ErrTypeNotFound, "provider %q not registered for kind %s", name, kind)
	}

	if !reg.descriptor.Available {
		return errors.Newf(
			errors.ErrTypeNotFound,
			"provider %q is not available: %s", name, reg.descriptor.AvailableReason,
		)
	}

	if prev := r.active[kind]; prev != "" && prev != name {
		if prevReg, ok := r.entries[kind][prev]; ok {
			prevReg.descriptor.Active = false
		}
	}

	reg.descriptor.Active = true
	r.active[kind] = name

	return nil
}

// Active returns the currently active backend name for a kind.
func (r *Registry) Active(kind Kind) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.active[kind]

	return name, ok && name != ""
}

// IsAvailable reports the recorded availability of a backend.
func (r *Registry) IsAvailable(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[kind][name]

	return ok && reg.descriptor.Available
}

// IsRegistered reports whether a backend is registered for a kind.
func (r *Registry) IsRegistered(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[kind][name]

	return ok
}

// Descriptors returns a sorted snapshot of every registered backend.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor

	for kind, byName := range r.entries {
		for name, reg := range byName {
			out = append(out, r.snapshotLocked(kind, name, reg))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}

		return out[i].Name < out[j].Name
	})

	return out
}

// snapshotLocked copies a descriptor so callers never observe a backend
// mid-transition. Caller must hold at least the read lock.
func (r *Registry) snapshotLocked(kind Kind, name string, reg *registration) Descriptor {
	d := reg.descriptor
	d.Active = r.active[kind] == name

	if d.Config != nil {
		cfg := make(map[string]string, len(d.Config))
		for k, v := range d.Config {
			cfg[k] = v
		}

		d.Config = cfg
	}

	return d
}

// generationClient returns the generation client for a name, if registered.
func (r *Registry) generationClient(name string) (GenerationClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[KindGeneration][name]
	if !ok || reg.generation == nil {
		return nil, false
	}

	return reg.generation, true
}

// embeddingClient returns the embedding client for a name, if registered.
func (r *Registry) embeddingClient(name string) (EmbeddingClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[KindEmbedding][name]
	if !ok || reg.embedding == nil {
		return nil, false
	}

	return reg.embedding, true
}
