package commands

import (
	"log/slog"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/history"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/notify"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
	"git.home.luguber.info/inful/x360make/internal/workspace"
)

// buildRuntime wires an orchestrator with the optional history and NATS
// observers. close releases them.
type buildRuntime struct {
	orch      *pipeline.Orchestrator
	workspace *workspace.Manager
	closers   []func() error
}

func (r *buildRuntime) close() {
	for _, c := range r.closers {
		if err := c(); err != nil {
			slog.Warn("Failed to release build resource", logfields.Error(err))
		}
	}
}

func newBuildRuntime(cfg *config.Config, logger *slog.Logger, opts ...pipeline.Option) *buildRuntime {
	rt := &buildRuntime{workspace: workspace.NewManager(cfg.Build.StagingDir, cfg.Build.RetainStaging)}

	if cfg.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			logger.Warn("Build history disabled", logfields.Path(cfg.History.Path), logfields.Error(err))
		} else {
			opts = append(opts, pipeline.WithObserver(history.NewObserver(store, logger)))
			rt.closers = append(rt.closers, store.Close)
		}
	}
	if cfg.Notify.NATSURL != "" {
		pub, err := notify.NewPublisher(cfg.Notify, logger)
		if err != nil {
			logger.Warn("Build notifications disabled", logfields.URL(cfg.Notify.NATSURL), logfields.Error(err))
		} else {
			opts = append(opts, pipeline.WithObserver(pub))
			rt.closers = append(rt.closers, pub.Close)
		}
	}

	opts = append([]pipeline.Option{pipeline.WithLogger(logger)}, opts...)
	rt.orch = pipeline.New(cfg, pipeline.Deps{Workspace: rt.workspace}, opts...)
	return rt
}
