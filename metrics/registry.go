// Package metrics provides a shared Prometheus registry and namespaced constructors
// for component-level metrics.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "prover_orchestrator"

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// GetRegistry returns the process-wide registry, with Go runtime and process collectors attached.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// ComponentRegistry creates metrics under a common namespace and subsystem.
// Registering the same metric twice returns the collector registered first.
type ComponentRegistry struct {
	reg       prometheus.Registerer
	namespace string
	subsystem string
}

// NewComponentRegistry scopes metrics to component (the Prometheus subsystem is subsystem,
// or component when subsystem is empty).
func NewComponentRegistry(component, subsystem string) *ComponentRegistry {
	return newComponentRegistry(GetRegistry(), component, subsystem)
}

func newComponentRegistry(reg prometheus.Registerer, component, subsystem string) *ComponentRegistry {
	if subsystem == "" {
		subsystem = component
	}
	return &ComponentRegistry{reg: reg, namespace: namespace, subsystem: subsystem}
}

func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewCounter(opts))
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewCounterVec(opts, labels))
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewGauge(opts))
}

func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewHistogramVec(opts, labels))
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
