// Package metric exposes the system's Prometheus collectors and the
// aggregator that maintains rolling system-wide statistics.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

// Registry manages the registration and lifecycle of metrics. Core
// collectors are registered at construction; modules may add their own
// under a namespaced key.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a metrics registry with the core collectors and the
// Go runtime and process collectors pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}
	for _, c := range r.Metrics.collectors() {
		r.prometheusRegistry.MustRegister(c)
	}
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register adds a module-specific collector under owner.name
func (r *Registry) Register(owner, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, owner),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			r.registered[key] = already.ExistingCollector
			return nil
		}
		return errors.Wrap(err, "Registry", "Register",
			fmt.Sprintf("register collector %s", key))
	}
	r.registered[key] = c
	return nil
}

// Unregister removes a module-specific collector. It returns false if the
// collector was not registered.
func (r *Registry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)
	c, exists := r.registered[key]
	if !exists {
		return false
	}
	delete(r.registered, key)
	return r.prometheusRegistry.Unregister(c)
}
