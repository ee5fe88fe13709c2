package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
)

// Watch builds dir once, then again after every debounced change until ctx
// is done. A change during a build supersedes that build.
func Watch(ctx context.Context, builder Builder, dir string, debounce time.Duration, ignore ...string) error {
	var wg sync.WaitGroup
	rebuild := func() {
		if ctx.Err() != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := builder.RunBuild(ctx, dir, pipeline.ModeLocal)
			switch {
			case err == nil:
				slog.Info("Rebuild succeeded", logfields.JobID(res.JobID), logfields.Path(res.Artifact))
			case res != nil && res.State == pipeline.StateCancelled:
				slog.Debug("Rebuild superseded", logfields.JobID(res.JobID))
			default:
				slog.Warn("Rebuild failed", logfields.Error(err))
			}
		}()
	}

	sw, err := NewSourceWatcher(dir, debounce, rebuild, ignore...)
	if err != nil {
		return err
	}
	rebuild()
	err = sw.Run(ctx)
	builder.Cancel()
	wg.Wait()
	return err
}
