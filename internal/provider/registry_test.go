package provider

import (
	"context"
	"errors"
	"testing"

	askerrors "github.com/askdb/askdb/internal/errors"
)

// mockClient implements both client interfaces for testing
type mockClient struct {
	name          string
	probeErr      error
	generateErr   error
	embedErr      error
	generateText  string
	embedDim      int
	generateCalls int
	embedCalls    int
	probeCalls    int
}

func (m *mockClient) Name() string {
	return m.name
}

func (m *mockClient) Probe(_ context.Context) error {
	m.probeCalls++
	return m.probeErr
}

func (m *mockClient) Generate(_ context.Context, _ string) (string, error) {
	m.generateCalls++
	if m.generateErr != nil {
		return "", m.generateErr
	}

	if m.generateText != "" {
		return m.generateText, nil
	}

	return `{"sql": "SELECT 1"}`, nil
}

func (m *mockClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.embedCalls++
	if m.embedErr != nil {
		return nil, m.embedErr
	}

	dim := m.embedDim
	if dim == 0 {
		dim = 4
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, dim)
		vectors[i][0] = float32(i + 1)
	}

	return vectors, nil
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		client  GenerationClient
		wantErr bool
	}{
		{
			name:    "valid client",
			client:  &mockClient{name: "openai"},
			wantErr: false,
		},
		{
			name:    "nil client",
			client:  nil,
			wantErr: true,
		},
		{
			name:    "empty name",
			client:  &mockClient{name: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()

			err := registry.RegisterGeneration(tt.client, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("RegisterGeneration() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewRegistry()

	if err := registry.RegisterGeneration(&mockClient{name: "openai"}, nil); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	err := registry.RegisterGeneration(&mockClient{name: "openai"}, nil)
	if err == nil {
		t.Fatal("expected error on duplicate registration")
	}

	if !askerrors.IsType(err, askerrors.ErrTypeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}

	// The same name is fine under a different kind
	if err := registry.RegisterEmbedding(&mockClient{name: "openai"}, nil); err != nil {
		t.Errorf("embedding registration with same name failed: %v", err)
	}
}

func TestRegistry_ProbeRecordsAvailability(t *testing.T) {
	registry := NewRegistry()
	healthy := &mockClient{name: "openai"}
	broken := &mockClient{name: "ollama", probeErr: errors.New("connection refused")}

	if err := registry.RegisterGeneration(healthy, nil); err != nil {
		t.Fatal(err)
	}

	if err := registry.RegisterGeneration(broken, nil); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	desc := registry.Probe(ctx, KindGeneration, "openai")
	if !desc.Available {
		t.Errorf("expected openai to be available, reason: %s", desc.AvailableReason)
	}

	desc = registry.Probe(ctx, KindGeneration, "ollama")
	if desc.Available {
		t.Error("expected ollama to be unavailable")
	}

	if desc.AvailableReason == "" {
		t.Error("expected an availability reason for the failed probe")
	}

	// Probing an unknown name must not panic or error
	desc = registry.Probe(ctx, KindGeneration, "missing")
	if desc.Available {
		t.Error("unknown provider must not be available")
	}
}

func TestRegistry_ProbeRecovery(t *testing.T) {
	registry := NewRegistry()
	client := &mockClient{name: "ollama", probeErr: errors.New("starting up")}

	if err := registry.RegisterGeneration(client, nil); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	if desc := registry.Probe(ctx, KindGeneration, "ollama"); desc.Available {
		t.Fatal("expected unavailable while probe fails")
	}

	// Server comes up; the next probe flips availability.
	client.probeErr = nil

	desc := registry.Probe(ctx, KindGeneration, "ollama")
	if !desc.Available {
		t.Errorf("expected available after recovery, reason: %s", desc.AvailableReason)
	}

	if desc.AvailableReason != "" {
		t.Errorf("expected reason cleared after recovery, got %q", desc.AvailableReason)
	}
}

func TestRegistry_SetActive(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	for _, name := range []string{"openai", "ollama"} {
		if err := registry.RegisterGeneration(&mockClient{name: name}, nil); err != nil {
			t.Fatal(err)
		}
	}

	registry.ProbeAll(ctx)

	if err := registry.SetActive(KindGeneration, "openai"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	active, ok := registry.Active(KindGeneration)
	if !ok || active != "openai" {
		t.Errorf("expected openai active, got %q", active)
	}

	// Switching deactivates the previous backend
	if err := registry.SetActive(KindGeneration, "ollama"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	activeCount := 0

	for _, desc := range registry.Descriptors() {
		if desc.Kind == KindGeneration && desc.Active {
			activeCount++

			if desc.Name != "ollama" {
				t.Errorf("expected ollama active, got %s", desc.Name)
			}
		}
	}

	if activeCount != 1 {
		t.Errorf("expected exactly one active generation provider, got %d", activeCount)
	}
}

func TestRegistry_SetActiveRejectsUnavailable(t *testing.T) {
	registry := NewRegistry()
	client := &mockClient{name: "ollama", probeErr: errors.New("down")}

	if err := registry.RegisterGeneration(client, nil); err != nil {
		t.Fatal(err)
	}

	registry.ProbeAll(context.Background())

	err := registry.SetActive(KindGeneration, "ollama")
	if err == nil {
		t.Fatal("expected error activating an unavailable provider")
	}

	if !askerrors.IsType(err, askerrors.ErrTypeNotFound) {
		t.Errorf("expected not_found error, got %v", err)
	}

	if err := registry.SetActive(KindGeneration, "missing"); err == nil {
		t.Error("expected error activating an unregistered provider")
	}
}

func TestRegistry_DescriptorsSnapshot(t *testing.T) {
	registry := NewRegistry()

	cfg := map[string]string{"model": "llama3"}
	if err := registry.RegisterGeneration(&mockClient{name: "ollama"}, cfg); err != nil {
		t.Fatal(err)
	}

	descriptors := registry.Descriptors()
	if len(descriptors) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descriptors))
	}

	// Mutating the snapshot must not leak into the registry
	descriptors[0].Config["model"] = "changed"

	fresh := registry.Descriptors()
	if fresh[0].Config["model"] != "llama3" {
		t.Error("descriptor snapshot leaked internal state")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{input: "generation", want: KindGeneration},
		{input: "embedding", want: KindEmbedding},
		{input: " Generation ", want: KindGeneration},
		{input: "translation", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		kind, err := ParseKind(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseKind(%q): expected error", tt.input)
			} else if !askerrors.IsType(err, askerrors.ErrTypeValidation) {
				t.Errorf("ParseKind(%q): expected validation error, got %v", tt.input, err)
			}

			continue
		}

		if err != nil {
			t.Errorf("ParseKind(%q): unexpected error %v", tt.input, err)
		} else if kind != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.input, kind, tt.want)
		}
	}
}
