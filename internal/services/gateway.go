package services

import (
	"context"
	"sort"

	"github.com/example/paygate/internal/models"
)

// Gateway is implemented by every payment gateway adapter.
type Gateway interface {
	// Name is the route segment, e.g. "paypal-commerce".
	Name() string
	// ConfigKey is the gateway_name whose stored credentials the adapter uses.
	ConfigKey() string
	TestConnection(ctx context.Context, creds Credentials) (*models.ConnectionResult, error)
	ProcessPayment(ctx context.Context, req *models.CheckoutRequest, creds Credentials) (*models.PaymentResult, error)
}

// Registry indexes adapters by route name and by configuration key.
type Registry struct {
	byName   map[string]Gateway
	byConfig map[string]Gateway
}

// NewRegistry builds a registry from constructed adapters.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{
		byName:   make(map[string]Gateway, len(gateways)),
		byConfig: make(map[string]Gateway, len(gateways)),
	}
	for _, gw := range gateways {
		r.byName[gw.Name()] = gw
		if _, taken := r.byConfig[gw.ConfigKey()]; !taken {
			r.byConfig[gw.ConfigKey()] = gw
		}
	}
	return r
}

// Lookup finds an adapter by route name.
func (r *Registry) Lookup(name string) (Gateway, bool) {
	gw, ok := r.byName[name]
	return gw, ok
}

// ForConfig finds the adapter that tests a stored configuration.
func (r *Registry) ForConfig(gatewayName string) (Gateway, bool) {
	if gw, ok := r.byConfig[gatewayName]; ok {
		return gw, true
	}
	return r.Lookup(gatewayName)
}

// Names lists route names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
