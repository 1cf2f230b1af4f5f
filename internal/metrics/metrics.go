// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes container statistics to Prometheus.
//
// A Collector implements the observer interfaces of the lock manager, the
// event hub and the lifecycle controller, so wiring it is a matter of
// passing it to each as an option. Every Collector owns its registry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/furnace-run/furnace/internal/events"
	"github.com/furnace-run/furnace/internal/lifecycle"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

// Namespace prefixes every metric name.
const Namespace = "furnace"

var (
	_ lock.Observer           = (*Collector)(nil)
	_ events.DeliveryObserver = (*Collector)(nil)
	_ lifecycle.Observer      = (*Collector)(nil)
	_ prometheus.Collector    = (*moduleCollector)(nil)
)

var allStatuses = []registry.Status{
	registry.StatusUninitialized,
	registry.StatusStarting,
	registry.StatusStarted,
	registry.StatusStopRequested,
	registry.StatusStopped,
	registry.StatusFailed,
}

const scrapeTimeout = 2 * time.Second

type (
	// Collector records lock, event and lifecycle statistics.
	Collector struct {
		registry *prometheus.Registry

		lockAcquires *prometheus.CounterVec
		lockWait     *prometheus.HistogramVec
		deadlocks    prometheus.Counter
		deliveries   *prometheus.CounterVec
		scans        *prometheus.CounterVec
		scanDuration prometheus.Histogram
		transitions  *prometheus.CounterVec
	}

	// moduleCollector reports the number of modules in each status at
	// scrape time.
	moduleCollector struct {
		desc *prometheus.Desc
		reg  *registry.Registry
	}
)

// New creates a Collector with a fresh registry holding the Go runtime and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		lockAcquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "lock", Name: "acquires_total",
			Help: "Granted lock acquisitions by mode.",
		}, []string{"mode"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "lock", Name: "wait_seconds",
			Help:    "Time spent waiting for a lock grant.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"mode"}),
		deadlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "lock", Name: "deadlocks_total",
			Help: "Acquisitions refused because they would deadlock.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "events", Name: "deliveries_total",
			Help: "Event deliveries by event type and result.",
		}, []string{"event", "result"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "lifecycle", Name: "scans_total",
			Help: "Completed scans, by whether they changed running modules.",
		}, []string{"applied"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "lifecycle", Name: "scan_duration_seconds",
			Help:    "Scan duration including the apply phase.",
			Buckets: prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "lifecycle", Name: "transitions_total",
			Help: "Module status transitions by target status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.lockAcquires, c.lockWait, c.deadlocks, c.deliveries, c.scans, c.scanDuration, c.transitions,
	)
	return c
}

// Registry returns the collector's registry, for health checks and tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// TrackModules reports furnace_modules{status} from reg at scrape time.
func (c *Collector) TrackModules(reg *registry.Registry) error {
	return c.registry.Register(&moduleCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "modules"),
			"Registered modules by status.",
			[]string{"status"}, nil,
		),
		reg: reg,
	})
}

// ObserveAcquire implements lock.Observer.
func (c *Collector) ObserveAcquire(mode lock.Mode, waited time.Duration) {
	c.lockAcquires.WithLabelValues(mode.String()).Inc()
	c.lockWait.WithLabelValues(mode.String()).Observe(waited.Seconds())
}

// ObserveDeadlock implements lock.Observer.
func (c *Collector) ObserveDeadlock() { c.deadlocks.Inc() }

// ObserveDelivery implements events.DeliveryObserver.
func (c *Collector) ObserveDelivery(eventType string, failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	c.deliveries.WithLabelValues(eventType, result).Inc()
}

// ObserveScan implements lifecycle.Observer.
func (c *Collector) ObserveScan(elapsed time.Duration, applied bool) {
	c.scans.WithLabelValues(strconv.FormatBool(applied)).Inc()
	c.scanDuration.Observe(elapsed.Seconds())
}

// ObserveTransition implements lifecycle.Observer.
func (c *Collector) ObserveTransition(_ addon.ID, status registry.Status) {
	c.transitions.WithLabelValues(status.String()).Inc()
}

func (m *moduleCollector) Describe(ch chan<- *prometheus.Desc) { ch <- m.desc }

func (m *moduleCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	mods, err := m.reg.Modules(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(m.desc, err)
		return
	}
	counts := make(map[registry.Status]int, len(allStatuses))
	for _, mod := range mods {
		counts[mod.Status()]++
	}
	for _, s := range allStatuses {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.GaugeValue, float64(counts[s]), s.String())
	}
}
