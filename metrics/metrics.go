// Package metrics exposes follow-engine counters, gauges, and histograms via
// the real Prometheus client, replacing a hand-rolled atomic-counter struct.
// Grounded on the promauto wiring in the pack's syncer metrics and exposed
// through promhttp the way vjache-cie's index command does.
package metrics

import (
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the follow engine emits. Each instance owns
// its own registry rather than registering against the global
// prometheus.DefaultRegisterer, so tests can construct as many instances as
// they like without "duplicate metrics collector registration" panics.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	followsTotal  *prometheus.CounterVec
	activeWorkers *prometheus.GaugeVec
	followLatency prometheus.Histogram
	scheduleGroup prometheus.Gauge
}

// New builds a Metrics instance with its own registry, also registering the
// standard Go runtime/process collectors (the same default-collector set
// promauto's global registry carries).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry:  reg,
		startTime: time.Now(),
		followsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "followfleet_follows_total",
			Help: "Total follow attempts, partitioned by outcome kind.",
		}, []string{"outcome"}),
		activeWorkers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "followfleet_active_workers",
			Help: "Number of active workers, partitioned by schedule group.",
		}, []string{"group"}),
		followLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "followfleet_follow_duration_seconds",
			Help:    "Latency of a single follow attempt end to end.",
			Buckets: prometheus.DefBuckets,
		}),
		scheduleGroup: factory.NewGauge(prometheus.GaugeOpts{
			Name: "followfleet_current_schedule_group",
			Help: "The schedule group currently active.",
		}),
	}
}

// Registry exposes the underlying *prometheus.Registry for promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFollow records one follow attempt's outcome kind and duration.
func (m *Metrics) ObserveFollow(outcomeKind string, duration time.Duration) {
	m.followsTotal.WithLabelValues(outcomeKind).Inc()
	m.followLatency.Observe(duration.Seconds())
}

// SetActiveWorkers records the current active-worker count for a group.
func (m *Metrics) SetActiveWorkers(group int, count int) {
	m.activeWorkers.WithLabelValues(groupLabel(group)).Set(float64(count))
}

// SetCurrentGroup records which schedule group is currently active.
func (m *Metrics) SetCurrentGroup(group int) {
	m.scheduleGroup.Set(float64(group))
}

// Snapshot is a point-in-time summary of follow outcomes, used by the
// dashboard's stats endpoint without requiring callers to parse the
// Prometheus text exposition format.
type Snapshot struct {
	Uptime    time.Duration
	ByOutcome map[string]float64
}

// Snapshot gathers the current counter values for the outcome kinds named.
// Errors gathering the registry are treated as an empty snapshot: stats
// display is best-effort and must never block the scheduler loop.
func (m *Metrics) Snapshot(outcomeKinds []string) Snapshot {
	s := Snapshot{Uptime: time.Since(m.startTime), ByOutcome: make(map[string]float64, len(outcomeKinds))}
	for _, kind := range outcomeKinds {
		counter, err := m.followsTotal.GetMetricWithLabelValues(kind)
		if err != nil {
			continue
		}
		var pb dto.Metric
		if err := counter.Write(&pb); err != nil {
			continue
		}
		s.ByOutcome[kind] = pb.GetCounter().GetValue()
	}
	return s
}

func groupLabel(group int) string {
	return "g" + strconv.Itoa(group)
}
