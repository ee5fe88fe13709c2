// Package metrics provides build observability for x360make.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics never need nil checks at call sites. The daemon
// swaps in PrometheusRecorder and serves its registry with HTTPHandler:
//
//	reg := prometheus.NewRegistry()
//	rec := metrics.NewPrometheusRecorder(reg)
//	orch := pipeline.New(cfg, deps, pipeline.WithRecorder(rec))
//	http.Handle("/metrics", metrics.HTTPHandler(reg))
package metrics
