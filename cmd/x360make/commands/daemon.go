package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/x360make/internal/daemon"
	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/metrics"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Source      string        `arg:"" help:"Local directory or repository URL to rebuild"`
	Mode        string        `help:"Source mode: auto, local or remote" default:"auto" enum:"auto,local,remote"`
	Interval    time.Duration `help:"Rebuild interval (overrides daemon.interval)"`
	MetricsAddr string        `name:"metrics-addr" help:"Metrics listen address (overrides daemon.metrics_addr)"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadRuntime(root, g)
	if err != nil {
		return err
	}
	if d.Interval > 0 {
		cfg.Daemon.Interval = d.Interval
	}
	if d.MetricsAddr != "" {
		cfg.Daemon.MetricsAddr = d.MetricsAddr
	}
	mode, err := pipeline.ParseMode(d.Mode)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid mode").Build()
	}

	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	sink := g.Sink
	rec.ObserveLogSink(func() metrics.LogStats {
		s := sink.Stats()
		return metrics.LogStats{Written: s.Written, Dropped: s.Dropped, Rotations: s.Rotations}
	})

	var ms *daemon.MetricsServer
	if cfg.Daemon.MetricsAddr != "" {
		ms, err = daemon.NewMetricsServer(cfg.Daemon.MetricsAddr, reg)
		if err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "cannot start metrics endpoint").Build()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt := newBuildRuntime(cfg, g.Logger, pipeline.WithRecorder(rec))
	defer rt.close()

	slog.Info("Starting daemon mode", slog.Duration("interval", cfg.Daemon.Interval))
	if err := daemon.New(cfg.Daemon, rt.orch, rt.workspace, d.Source, mode, ms).Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	slog.Info("Daemon stopped successfully")
	return nil
}
