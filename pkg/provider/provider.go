// Package provider fetches attestation reports from the model hosts
// the verification engine supports, normalizing each host's own report
// format into a types.AttestationReport the pkg/verify hierarchy can
// consume.
package provider

import (
	"context"

	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

// Provider fetches attestation reports for models hosted by a single
// service (Tinfoil, Redpill, NearAI, ...).
type Provider interface {
	FetchReport(ctx context.Context, modelID string) (*types.AttestationReport, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Registry looks up a Provider by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from a name->Provider map.
func NewRegistry(providers map[string]Provider) *Registry {
	return &Registry{providers: providers}
}

// Get returns the provider registered under name, or (nil, false) if
// none is registered.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
