package provider

import (
	"fmt"
	"sync"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
	"github.com/alloyform-io/alloyform/providers/google"
	"github.com/alloyform-io/alloyform/providers/null"
	"github.com/alloyform-io/alloyform/providers/random"
)

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]sdk.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]sdk.Provider),
	}
}

// LoadProvider initializes and registers a built-in provider.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p sdk.Provider
	switch name {
	case "null":
		p = null.New()
	case "random":
		p = random.New()
	case "google":
		p = google.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Register installs a provider under a name, replacing any existing one.
// Used by tests to inject fakes.
func (r *Registry) Register(name string, p sdk.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (sdk.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
