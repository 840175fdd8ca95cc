package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arrdeck/arrdeck/pkg/apiclient"
	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/plugins"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

// Metrics exposes the core services' stats counters as Prometheus
// collectors. Each scrape reads a fresh atomic snapshot; nothing is
// sampled or pushed.
type Metrics struct {
	registry *prometheus.Registry
}

// NewMetrics builds a registry wired to the given services. Nil services
// are skipped, which keeps test setups small.
func NewMetrics(bus *eventbus.Bus, runner *tasks.Runner, client *apiclient.Client, plugins *plugins.Registry) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if bus != nil {
		reg.MustRegister(
			counterFunc("arrdeck_events_published_total",
				"Total events published on the bus",
				func() float64 { return float64(bus.Stats().EventsPublished) }),
			counterFunc("arrdeck_event_handlers_invoked_total",
				"Total handler invocations",
				func() float64 { return float64(bus.Stats().HandlersInvoked) }),
			counterFunc("arrdeck_event_handler_errors_total",
				"Total handler invocations that returned an error",
				func() float64 { return float64(bus.Stats().HandlerErrors) }),
			counterFunc("arrdeck_event_handler_panics_total",
				"Total handler invocations that panicked",
				func() float64 { return float64(bus.Stats().HandlerPanics) }),
			gaugeFunc("arrdeck_event_subscribers",
				"Current number of active subscriptions",
				func() float64 { return float64(bus.Stats().ActiveSubscribers) }),
		)
	}

	if runner != nil {
		reg.MustRegister(
			counterFunc("arrdeck_tasks_submitted_total",
				"Total tasks accepted by the runner",
				func() float64 { return float64(runner.Stats().Submitted) }),
			counterFunc("arrdeck_tasks_succeeded_total",
				"Total tasks that completed successfully",
				func() float64 { return float64(runner.Stats().Succeeded) }),
			counterFunc("arrdeck_tasks_failed_total",
				"Total tasks that exhausted retries or hit a terminal error",
				func() float64 { return float64(runner.Stats().Failed) }),
			counterFunc("arrdeck_tasks_cancelled_total",
				"Total tasks cancelled before completion",
				func() float64 { return float64(runner.Stats().Cancelled) }),
			counterFunc("arrdeck_task_retries_total",
				"Total retry attempts across all tasks",
				func() float64 { return float64(runner.Stats().Retries) }),
			gaugeFunc("arrdeck_task_queue_depth",
				"Tasks waiting for a worker",
				func() float64 { return float64(runner.Stats().QueueDepth) }),
		)
	}

	if client != nil {
		reg.MustRegister(
			counterFunc("arrdeck_api_cache_hits_total",
				"GET responses served from the client cache",
				func() float64 { return float64(client.Stats().CacheHits) }),
			counterFunc("arrdeck_api_cache_misses_total",
				"GET requests that went to the backing service",
				func() float64 { return float64(client.Stats().CacheMisses) }),
		)
	}

	if plugins != nil {
		reg.MustRegister(&pluginStateCollector{registry: plugins})
	}

	return &Metrics{registry: reg}
}

// Handler returns the scrape endpoint for the wired collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func counterFunc(name, help string, fn func() float64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn)
}

func gaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

var pluginStateDesc = prometheus.NewDesc(
	"arrdeck_plugins",
	"Number of plugins per lifecycle state",
	[]string{"state"}, nil,
)

// pluginStateCollector counts registry entries per lifecycle state at
// scrape time.
type pluginStateCollector struct {
	registry *plugins.Registry
}

func (c *pluginStateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pluginStateDesc
}

func (c *pluginStateCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[plugins.State]int)
	for _, status := range c.registry.List(plugins.FilterAll) {
		counts[status.State]++
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(
			pluginStateDesc, prometheus.GaugeValue, float64(n), state.String())
	}
}
