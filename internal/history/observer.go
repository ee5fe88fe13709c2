package history

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
)

const writeTimeout = 5 * time.Second

// Observer records pipeline activity in a SQLiteStore. Write failures are
// logged and never fail the build.
type Observer struct {
	store  *SQLiteStore
	logger *slog.Logger
}

// NewObserver returns a pipeline observer writing to store.
func NewObserver(store *SQLiteStore, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{store: store, logger: logger}
}

func (o *Observer) OnStateChange(t pipeline.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := o.store.RecordTransition(ctx, Transition{
		JobID: t.JobID,
		From:  t.From.String(),
		To:    t.To.String(),
		At:    t.At,
	})
	if err != nil {
		o.logger.Warn("Failed to record transition", logfields.JobID(t.JobID), logfields.Error(err))
	}
}

func (o *Observer) OnBuildComplete(res *pipeline.Result) {
	b := Build{
		JobID:    res.JobID,
		Source:   res.Source,
		Mode:     string(res.Mode),
		State:    res.State.String(),
		Artifact: res.Artifact,
		Objects:  res.Objects,
		Started:  res.Started,
		Duration: res.Duration,
	}
	if res.Err != nil {
		b.Error = res.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := o.store.RecordBuild(ctx, b); err != nil {
		o.logger.Warn("Failed to record build", logfields.JobID(res.JobID), logfields.Error(err))
	}
}
