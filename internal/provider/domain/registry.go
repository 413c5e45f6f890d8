package domain

import (
	"sort"
	"strings"
)

// Registry holds the configured adapters keyed by provider name. Adapter
// choice at a call site is a plain lookup; there is no fallback.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Get returns the adapter for the provider name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Exists reports whether an adapter is registered under name.
func (r *Registry) Exists(name string) bool {
	_, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Available returns the provider names offered in a country. The mobile-money
// networks are Uzbekistan-only; the card network is offered everywhere.
func (r *Registry) Available(countryCode string) []string {
	var names []string
	if strings.EqualFold(strings.TrimSpace(countryCode), "UZ") {
		for _, name := range []string{"payme", "click"} {
			if r.Exists(name) {
				names = append(names, name)
			}
		}
	}
	if r.Exists("stripe") {
		names = append(names, "stripe")
	}
	sort.Strings(names)
	return names
}
