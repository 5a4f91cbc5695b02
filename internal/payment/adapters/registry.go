package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/marketledger/internal/payment/domain"
)

// Registry holds one ready adapter per webhook provider, built once from the
// configured secrets. A provider without a secret is not registered, so its
// deliveries are rejected as unknown.
type Registry struct {
	adapters map[string]domain.PaymentAdapter
}

func NewRegistry(secrets map[string]string, factories ...domain.AdapterFactory) (*Registry, error) {
	registry := &Registry{adapters: make(map[string]domain.PaymentAdapter, len(factories))}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		secret := strings.TrimSpace(secrets[provider])
		if provider == "" || secret == "" {
			continue
		}
		adapter, err := factory.NewAdapter(domain.AdapterConfig{Provider: provider, Secret: secret})
		if err != nil {
			return nil, fmt.Errorf("payment adapter %s: %w", provider, err)
		}
		registry.adapters[provider] = adapter
	}
	return registry, nil
}

func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := r.adapters[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

// Providers lists the registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
