// Package metrics exposes a Prometheus-backed instrumentation surface for
// a running cache instance. Each Cache gets its own Set registered under
// a constant "cache" label so multiple regions can be served from one
// process without metric name collisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set is the group of gauges and counters for one named cache instance.
type Set struct {
	Active          prometheus.Gauge
	InactiveBlocked prometheus.Gauge
	Dirty           prometheus.Gauge
	WritebackActive prometheus.Gauge
	FreeEntries     prometheus.Gauge

	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Bypasses  prometheus.Counter
	ReadErrs  prometheus.Counter
	WriteErrs prometheus.Counter
	Recovered prometheus.Counter
}

// NewSet builds and registers (against the default registerer) a fresh
// Set of metrics labeled with the cache's name. Registration failures
// (e.g. a duplicate name re-registered in tests) are tolerated: the
// already-registered collector is reused instead of panicking, since
// metrics must never be allowed to block cache activation.
func NewSet(name string) *Set {
	labels := prometheus.Labels{"cache": name}

	gauge := func(opts prometheus.GaugeOpts) prometheus.Gauge {
		opts.ConstLabels = labels
		g := prometheus.NewGauge(opts)
		if err := prometheus.Register(g); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector.(prometheus.Gauge)
			}
		}
		return g
	}
	counter := func(opts prometheus.CounterOpts) prometheus.Counter {
		opts.ConstLabels = labels
		c := prometheus.NewCounter(opts)
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector.(prometheus.Counter)
			}
		}
		return c
	}

	return &Set{
		Active: gauge(prometheus.GaugeOpts{
			Namespace: "bbucache", Name: "active_entries",
			Help: "Entries currently checked out of the free list.",
		}),
		InactiveBlocked: gauge(prometheus.GaugeOpts{
			Namespace: "bbucache", Name: "inactive_blocked",
			Help: "1 when admission is blocked waiting for a free entry.",
		}),
		Dirty: gauge(prometheus.GaugeOpts{
			Namespace: "bbucache", Name: "dirty_entries",
			Help: "Entries holding at least one dirty block.",
		}),
		WritebackActive: gauge(prometheus.GaugeOpts{
			Namespace: "bbucache", Name: "writeback_active",
			Help: "Blocks currently in flight to the backing device.",
		}),
		FreeEntries: gauge(prometheus.GaugeOpts{
			Namespace: "bbucache", Name: "free_entries",
			Help: "Entries on the clean free list.",
		}),
		Hits: counter(prometheus.CounterOpts{
			Namespace: "bbucache", Name: "hits_total",
			Help: "Read segments copied out of a cached block's data page.",
		}),
		Misses: counter(prometheus.CounterOpts{
			Namespace: "bbucache", Name: "misses_total",
			Help: "Requests that required a backing-device fill.",
		}),
		Bypasses: counter(prometheus.CounterOpts{
			Namespace: "bbucache", Name: "bypass_reads_total",
			Help: "Reads served directly from the backing device.",
		}),
		ReadErrs: counter(prometheus.CounterOpts{
			Namespace: "bbucache", Name: "read_errors_total",
			Help: "Backing-device read failures.",
		}),
		WriteErrs: counter(prometheus.CounterOpts{
			Namespace: "bbucache", Name: "write_errors_total",
			Help: "Backing-device write failures.",
		}),
		Recovered: counter(prometheus.CounterOpts{
			Namespace: "bbucache", Name: "recovered_entries_total",
			Help: "Descriptor slots repaired by crash recovery at activation.",
		}),
	}
}
