// Package service implements the service registry: the addressable
// directory of handlers that entities and automations invoke by
// "domain.service" name.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/hassd/internal/log"
	"github.com/cuemby/hassd/internal/metrics"
	hcore "github.com/cuemby/hassd/pkg/core"
)

// SupportsResponse describes whether a service can return data to the
// caller.
type SupportsResponse string

const (
	SupportsResponseNone     SupportsResponse = "none"
	SupportsResponseOptional SupportsResponse = "optional"
	SupportsResponseOnly     SupportsResponse = "only"
)

// Call is the payload handed to a service handler.
type Call struct {
	Domain  string
	Service string
	Data    json.RawMessage
	Context hcore.Context
}

// Handler processes a service call. It returns a JSON response payload
// when the service supports one, or nil otherwise.
type Handler func(ctx context.Context, call Call) (json.RawMessage, error)

// Description is the metadata exposed about a registered service.
type Description struct {
	Domain           string
	Service          string
	Name             string
	Description      string
	Schema           json.RawMessage
	SupportsResponse SupportsResponse
}

type registered struct {
	handler     Handler
	description Description
}

// Registry is the "domain.service" keyed handler directory.
type Registry struct {
	mu       sync.RWMutex
	services map[string]registered
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]registered)}
}

func key(domain, service string) string {
	return domain + "." + service
}

// Register adds a handler with a minimal description (no schema, no
// human-readable name).
func (r *Registry) Register(domain, service string, handler Handler, supportsResponse SupportsResponse) {
	r.RegisterWithDescription(Description{
		Domain:           domain,
		Service:          service,
		SupportsResponse: supportsResponse,
	}, handler)
}

// RegisterWithDescription adds a handler with a full description.
func (r *Registry) RegisterWithDescription(description Description, handler Handler) {
	k := key(description.Domain, description.Service)

	log.WithComponent("service").Debug().
		Str("domain", description.Domain).Str("service", description.Service).
		Msg("registering service")

	r.mu.Lock()
	r.services[k] = registered{handler: handler, description: description}
	r.mu.Unlock()
}

// Call invokes a registered handler. If returnResponse is true but the
// service does not support one, it fails with ErrResponseNotSupported
// without invoking the handler.
func (r *Registry) Call(ctx context.Context, domain, service string, data json.RawMessage, svcCtx hcore.Context, returnResponse bool) (json.RawMessage, error) {
	k := key(domain, service)

	r.mu.RLock()
	entry, ok := r.services[k]
	r.mu.RUnlock()

	if !ok {
		log.WithComponent("service").Warn().Str("domain", domain).Str("service", service).Msg("service not found")
		metrics.ServiceCallsTotal.WithLabelValues(domain, service, "not_found").Inc()
		return nil, fmt.Errorf("%w: %s.%s", hcore.ErrNotFound, domain, service)
	}

	if returnResponse && entry.description.SupportsResponse == SupportsResponseNone {
		metrics.ServiceCallsTotal.WithLabelValues(domain, service, "response_not_supported").Inc()
		return nil, fmt.Errorf("%w: %s.%s", hcore.ErrResponseNotSupported, domain, service)
	}

	call := Call{Domain: domain, Service: service, Data: data, Context: svcCtx}

	timer := metrics.NewTimer()
	result, err := entry.handler(ctx, call)
	timer.ObserveDurationVec(metrics.ServiceCallDuration, domain, service)

	if err != nil {
		metrics.ServiceCallsTotal.WithLabelValues(domain, service, "error").Inc()
		return nil, fmt.Errorf("%w: %s.%s: %v", hcore.ErrCallFailed, domain, service, err)
	}

	metrics.ServiceCallsTotal.WithLabelValues(domain, service, "ok").Inc()

	if !returnResponse {
		return nil, nil
	}
	return result, nil
}

// HasService reports whether domain.service is registered.
func (r *Registry) HasService(domain, service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[key(domain, service)]
	return ok
}

// GetService returns the description of a registered service.
func (r *Registry) GetService(domain, service string) (Description, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[key(domain, service)]
	return entry.description, ok
}

// DomainServices returns the descriptions of every service in domain.
func (r *Registry) DomainServices(domain string) []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Description
	for _, entry := range r.services {
		if entry.description.Domain == domain {
			out = append(out, entry.description)
		}
	}
	return out
}

// Domains returns every domain with at least one registered service,
// sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, entry := range r.services {
		seen[entry.description.Domain] = true
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// AllServices groups every registered service's description by domain.
func (r *Registry) AllServices() map[string][]Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Description)
	for _, entry := range r.services {
		out[entry.description.Domain] = append(out[entry.description.Domain], entry.description)
	}
	return out
}

// Unregister removes a single service. It reports whether anything was
// removed.
func (r *Registry) Unregister(domain, service string) bool {
	k := key(domain, service)
	r.mu.Lock()
	_, ok := r.services[k]
	delete(r.services, k)
	r.mu.Unlock()

	if ok {
		log.WithComponent("service").Debug().Str("domain", domain).Str("service", service).Msg("unregistered service")
	}
	return ok
}

// UnregisterDomain removes every service registered under domain and
// returns how many were removed.
func (r *Registry) UnregisterDomain(domain string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for k, entry := range r.services {
		if entry.description.Domain == domain {
			delete(r.services, k)
			count++
		}
	}
	return count
}

// ServiceCount returns the total number of registered services.
func (r *Registry) ServiceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
