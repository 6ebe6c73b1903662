package kernel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/chatkernel/core"
)

// Spec describes a kernel the host can start.
type Spec struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Language    string         `json:"language"`
	Argv        []string       `json:"argv"`
	Resources   map[string]any `json:"resources"`
}

// DefaultSpec is the spec of the built-in chat kernel.
func DefaultSpec() Spec {
	return Spec{
		Name:        "built-in-chat",
		DisplayName: "Built-in AI Chat",
		Language:    "python",
		Argv:        []string{},
		Resources:   map[string]any{},
	}
}

// Factory creates a kernel instance for spec.
type Factory func(ctx context.Context, spec Spec) (*Kernel, error)

type registration struct {
	spec    Spec
	factory Factory
}

// Registry maps spec names to kernel factories. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]registration)}
}

// Register adds a spec. Names must be unique.
func (r *Registry) Register(spec Spec, factory Factory) error {
	if spec.Name == "" {
		return fmt.Errorf("kernel spec name is required")
	}
	if factory == nil {
		return fmt.Errorf("kernel spec %s: factory is required", spec.Name)
	}
	if spec.Argv == nil {
		spec.Argv = []string{}
	}
	if spec.Resources == nil {
		spec.Resources = map[string]any{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("kernel spec %s already registered", spec.Name)
	}
	r.specs[spec.Name] = registration{spec: spec, factory: factory}
	return nil
}

// Specs returns the registered specs sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.specs))
	for _, reg := range r.specs {
		specs = append(specs, reg.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.specs[name]
	return reg.spec, ok
}

// Create starts a kernel from the spec registered under name.
func (r *Registry) Create(ctx context.Context, name string) (*Kernel, error) {
	r.mu.RLock()
	reg, ok := r.specs[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &core.ProtocolError{Message: fmt.Sprintf("unknown kernel spec %q", name)}
	}

	k, err := reg.factory(ctx, reg.spec)
	if err != nil {
		return nil, fmt.Errorf("create kernel %s: %w", name, err)
	}
	return k, nil
}
