package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("compiling", 150*time.Millisecond)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncStageResult("compiling", ResultSuccess)
	pr.IncBuildOutcome("succeeded")
	pr.IncFetchAttempt("main", false)
	pr.IncFetchAttempt("master", true)
	pr.AddExtractedEntries(100)
	pr.ObserveCompileUnit(20*time.Millisecond, true)

	require.InDelta(t, 1, counterValue(t, reg, "x360make_fetch_attempts_total", map[string]string{"branch": "main", "result": "failed"}), 0)
	require.InDelta(t, 1, counterValue(t, reg, "x360make_fetch_attempts_total", map[string]string{"branch": "master", "result": "success"}), 0)
	require.InDelta(t, 100, counterValue(t, reg, "x360make_extracted_entries_total", nil), 0)
	require.InDelta(t, 1, counterValue(t, reg, "x360make_build_outcomes_total", map[string]string{"outcome": "succeeded"}), 0)
}

// counterValue finds the counter sample whose labels include want.
func counterValue(t *testing.T, reg *prom.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, want)
	return 0
}

func TestObserveLogSinkAndHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveLogSink(func() LogStats { return LogStats{Written: 42, Dropped: 7, Rotations: 1} })

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "x360make_log_records_dropped_total 7")
	require.Contains(t, string(body), "x360make_log_records_written_total 42")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncBuildOutcome("failed")
	pr.ObserveCompileUnit(time.Second, false)
	pr.ObserveLogSink(func() LogStats { return LogStats{} })
}
