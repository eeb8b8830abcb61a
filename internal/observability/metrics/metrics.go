package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the intake pipeline.
type PipelineMetrics struct {
	eventsTotal     *prometheus.CounterVec
	filesTotal      *prometheus.CounterVec
	summariesTotal  *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	lockConflicts   *prometheus.CounterVec
	stageLatency    *prometheus.HistogramVec
	releaseFailures prometheus.Counter
	illegalStatus   *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Change notifications received, by kind and dispatch outcome",
		}, []string{"kind", "outcome"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "extraction",
			Name:      "files_total",
			Help:      "Files attempted by the document processor",
		}, []string{"file_type", "outcome"}),
		summariesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "summary",
			Name:      "generated_total",
			Help:      "Summary generation outcomes (ok, fallback, failed)",
		}, []string{"outcome"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "summary",
			Name:      "upstream_attempts_total",
			Help:      "Text completion attempts by result class",
		}, []string{"result"}),
		lockConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "lock_conflicts_total",
			Help:      "Invocations that lost the processing lock",
		}, []string{"stage"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		releaseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "lock_release_failures_total",
			Help:      "Status writes that failed while releasing the lock",
		}),
		illegalStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "illegal_transitions_total",
			Help:      "Release targets outside the status graph, rewritten to processing_failed",
		}, []string{"to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.filesTotal, m.summariesTotal, m.upstreamCalls, m.lockConflicts, m.stageLatency, m.releaseFailures, m.illegalStatus)
	return m
}

func (m *PipelineMetrics) ObserveEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *PipelineMetrics) ObserveFile(fileType string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "extracted"
	}
	m.filesTotal.WithLabelValues(fileType, outcome).Inc()
}

func (m *PipelineMetrics) ObserveSummary(outcome string) {
	if m == nil {
		return
	}
	m.summariesTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveUpstreamAttempt(result string) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) ObserveLockConflict(stage string) {
	if m == nil {
		return
	}
	m.lockConflicts.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) ObserveStageDuration(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) ObserveReleaseFailure() {
	if m == nil {
		return
	}
	m.releaseFailures.Inc()
}

func (m *PipelineMetrics) ObserveIllegalTransition(to string) {
	if m == nil {
		return
	}
	m.illegalStatus.WithLabelValues(to).Inc()
}
