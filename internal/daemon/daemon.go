// Package daemon keeps builds running unattended: scheduled rebuilds of a
// source, rebuilds on source changes, staging cleanup and a metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
	"git.home.luguber.info/inful/x360make/internal/workspace"
)

// Builder runs builds. *pipeline.Orchestrator implements it.
type Builder interface {
	RunBuild(ctx context.Context, source string, mode pipeline.Mode) (*pipeline.Result, error)
	Cancel()
}

// Daemon rebuilds one source on an interval and prunes old staging
// directories.
type Daemon struct {
	cfg       config.DaemonConfig
	builder   Builder
	workspace *workspace.Manager
	source    string
	mode      pipeline.Mode
	metrics   *MetricsServer
}

// New creates a daemon. metricsServer may be nil.
func New(cfg config.DaemonConfig, builder Builder, ws *workspace.Manager, source string, mode pipeline.Mode, metricsServer *MetricsServer) *Daemon {
	return &Daemon{cfg: cfg, builder: builder, workspace: ws, source: source, mode: mode, metrics: metricsServer}
}

// Run schedules the jobs and blocks until ctx is done. The first build
// starts immediately.
func (d *Daemon) Run(ctx context.Context) error {
	sched, err := NewScheduler()
	if err != nil {
		return err
	}
	if _, err := sched.ScheduleEvery("rebuild", d.cfg.Interval, true, func() { d.build(ctx) }); err != nil {
		return err
	}
	if d.cfg.StagingRetention > 0 && d.workspace != nil {
		every := min(d.cfg.StagingRetention, time.Hour)
		if _, err := sched.ScheduleEvery("prune-staging", every, false, func() { d.prune() }); err != nil {
			return err
		}
	}

	if d.metrics != nil {
		d.metrics.Start()
	}
	sched.Start()
	slog.Info("Daemon started",
		logfields.Source(d.source),
		slog.Duration("interval", d.cfg.Interval))

	<-ctx.Done()
	slog.Info("Daemon stopping")

	d.builder.Cancel()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	errs = append(errs, sched.Stop(stopCtx))
	if d.metrics != nil {
		errs = append(errs, d.metrics.Stop(stopCtx))
	}
	return errors.Join(errs...)
}

func (d *Daemon) build(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := d.builder.RunBuild(ctx, d.source, d.mode)
	if err != nil {
		slog.Warn("Scheduled build did not succeed", logfields.Source(d.source), logfields.Error(err))
		return
	}
	slog.Info("Scheduled build succeeded", logfields.JobID(res.JobID), logfields.Path(res.Artifact))
}

func (d *Daemon) prune() {
	n, err := d.workspace.Prune(d.cfg.StagingRetention)
	if err != nil {
		slog.Warn("Staging prune incomplete", logfields.Error(err))
	}
	if n > 0 {
		slog.Info("Pruned staging directories", logfields.Entries(n))
	}
}
