package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "x360make"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg              prom.Registerer
	stageDuration    *prom.HistogramVec
	buildDuration    prom.Histogram
	stageResults     *prom.CounterVec
	buildOutcome     *prom.CounterVec
	fetchAttempts    *prom.CounterVec
	extractedEntries prom.Counter
	compileDuration  *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg
// (a fresh registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of individual pipeline stages",
		Buckets:   prom.DefBuckets,
	}, []string{"stage"})
	pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "build_duration_seconds",
		Help:      "Total build duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stage_results_total",
		Help:      "Stage result counts by outcome",
	}, []string{"stage", "result"})
	pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "build_outcomes_total",
		Help:      "Build outcomes by terminal state",
	}, []string{"outcome"})
	pr.fetchAttempts = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Branch fetch attempts by branch and result",
	}, []string{"branch", "result"})
	pr.extractedEntries = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "extracted_entries_total",
		Help:      "Archive entries written to staging directories",
	})
	pr.compileDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "compile_unit_duration_seconds",
		Help:      "Duration of single compilation unit invocations",
		Buckets:   prom.DefBuckets,
	}, []string{"result"})
	reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.stageResults, pr.buildOutcome,
		pr.fetchAttempts, pr.extractedEntries, pr.compileDuration)
	return pr
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncFetchAttempt(branch string, success bool) {
	if p == nil || p.fetchAttempts == nil {
		return
	}
	p.fetchAttempts.WithLabelValues(branch, resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) AddExtractedEntries(n int) {
	if p == nil || p.extractedEntries == nil || n <= 0 {
		return
	}
	p.extractedEntries.Add(float64(n))
}

func (p *PrometheusRecorder) ObserveCompileUnit(d time.Duration, success bool) {
	if p == nil || p.compileDuration == nil {
		return
	}
	p.compileDuration.WithLabelValues(resultLabel(success)).Observe(d.Seconds())
}

// LogStats is the subset of log sink counters exported as metrics.
type LogStats struct {
	Written   uint64
	Dropped   uint64
	Rotations uint64
}

// ObserveLogSink exports the log sink counters, read on every scrape.
func (p *PrometheusRecorder) ObserveLogSink(stats func() LogStats) {
	if p == nil || stats == nil {
		return
	}
	counter := func(name, help string, pick func(LogStats) uint64) prom.Collector {
		return prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	p.reg.MustRegister(
		counter("records_written_total", "Log records written to the log file", func(s LogStats) uint64 { return s.Written }),
		counter("records_dropped_total", "Log records discarded by the drop-oldest overload policy", func(s LogStats) uint64 { return s.Dropped }),
		counter("rotations_total", "Log file rotations", func(s LogStats) uint64 { return s.Rotations }),
	)
}
