// Package metrics exports dependency tracker activity to Prometheus.
package metrics

import (
	"time"

	"github.com/delaneyj/sprinkle/reactive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Config struct {
	// Namespace is the metrics namespace (default: "sprinkle").
	Namespace string

	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for flush duration.
	// Default: exponential from 10µs.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func defaultConfig() Config {
	return Config{
		Namespace: "sprinkle",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector is a reactive.Observer backed by Prometheus metrics. It may be
// shared by any number of trackers.
type Collector struct {
	registrations prometheus.Counter
	writes        prometheus.Counter
	flushes       prometheus.Counter
	paths         prometheus.Counter
	effectRuns    prometheus.Counter
	flushDuration prometheus.Histogram
}

var _ reactive.Observer = (*Collector)(nil)

// New registers the collector's metrics. Registering twice on the same
// registry panics, as promauto does.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Collector{
		registrations: counter("effect_registrations_total", "Total number of effect registrations under a scope path"),
		writes:        counter("scope_writes_total", "Total number of scope writes"),
		flushes:       counter("flushes_total", "Total number of flushes that replayed pending paths"),
		paths:         counter("flushed_paths_total", "Total number of pending paths visited by flushes"),
		effectRuns:    counter("effect_runs_total", "Total number of effects replayed by flushes"),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "flush_duration_seconds",
			Help:        "Flush duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
	}
}

func (c *Collector) Registered(string) { c.registrations.Inc() }

func (c *Collector) Written(string) { c.writes.Inc() }

func (c *Collector) Flushed(paths, effects int, elapsed time.Duration) {
	c.flushes.Inc()
	c.paths.Add(float64(paths))
	c.effectRuns.Add(float64(effects))
	c.flushDuration.Observe(elapsed.Seconds())
}
