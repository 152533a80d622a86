// Package telemetry exposes the exporter's own operational metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the exporter's self-instrumentation. Poll vectors are
// labeled by target so one slow or broken Prism endpoint is visible on
// its own.
type Metrics struct {
	PollsTotal          *prometheus.CounterVec
	PollDuration        *prometheus.HistogramVec
	JoinMissesTotal     *prometheus.CounterVec
	DuplicatesTotal     *prometheus.CounterVec
	ConsecutiveFailures *prometheus.GaugeVec
	TargetDegraded      *prometheus.GaugeVec
	ForwardExportsTotal *prometheus.CounterVec
}

// New creates the metric vectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutanix_exporter_polls_total",
			Help: "Number of completed poll cycles by target and result.",
		}, []string{"target", "result"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nutanix_exporter_poll_duration_seconds",
			Help: "Duration of poll cycles by target.",
			// Polls run API pagination end to end, so the usual request
			// buckets are too narrow.
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"target"}),
		JoinMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutanix_exporter_join_misses_total",
			Help: "Number of entities whose cluster or host reference could not be resolved to a name.",
		}, []string{"target"}),
		DuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutanix_exporter_duplicate_samples_total",
			Help: "Number of samples dropped because their series identity repeated within one poll.",
		}, []string{"target"}),
		ConsecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nutanix_exporter_consecutive_failures",
			Help: "Number of poll failures since the last success by target.",
		}, []string{"target"}),
		TargetDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nutanix_exporter_target_degraded",
			Help: "Whether the target crossed the consecutive failure threshold (1) or not (0).",
		}, []string{"target"}),
		ForwardExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutanix_exporter_forward_exports_total",
			Help: "Number of OTLP forward exports by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.PollsTotal,
		m.PollDuration,
		m.JoinMissesTotal,
		m.DuplicatesTotal,
		m.ConsecutiveFailures,
		m.TargetDegraded,
		m.ForwardExportsTotal,
	)
	return m
}

// InitTarget creates the per-target series at zero so they are visible
// before the first poll completes.
func (m *Metrics) InitTarget(target string) {
	m.PollsTotal.WithLabelValues(target, ResultSuccess)
	m.PollsTotal.WithLabelValues(target, ResultFailure)
	m.JoinMissesTotal.WithLabelValues(target)
	m.DuplicatesTotal.WithLabelValues(target)
	m.ConsecutiveFailures.WithLabelValues(target).Set(0)
	m.TargetDegraded.WithLabelValues(target).Set(0)
}

// ObservePoll records one finished poll cycle.
func (m *Metrics) ObservePoll(target string, duration time.Duration, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.PollsTotal.WithLabelValues(target, result).Inc()
	m.PollDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// ObserveTranslation records translator statistics for one poll.
func (m *Metrics) ObserveTranslation(target string, joinMisses, duplicates int) {
	m.JoinMissesTotal.WithLabelValues(target).Add(float64(joinMisses))
	m.DuplicatesTotal.WithLabelValues(target).Add(float64(duplicates))
}

// SetConsecutiveFailures updates the failure streak gauge for a target.
func (m *Metrics) SetConsecutiveFailures(target string, n int) {
	m.ConsecutiveFailures.WithLabelValues(target).Set(float64(n))
}

// SetDegraded flips the degraded gauge for a target.
func (m *Metrics) SetDegraded(target string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	m.TargetDegraded.WithLabelValues(target).Set(v)
}

// ObserveForwardExport records one OTLP export attempt.
func (m *Metrics) ObserveForwardExport(err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.ForwardExportsTotal.WithLabelValues(result).Inc()
}
