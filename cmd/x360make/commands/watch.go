package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/x360make/internal/daemon"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Dir    string `arg:"" help:"Source directory to watch" type:"existingdir"`
	Output string `short:"o" help:"Output directory (overrides build.output_dir)"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadRuntime(root, g)
	if err != nil {
		return err
	}
	if w.Output != "" {
		cfg.Build.OutputDir = w.Output
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt := newBuildRuntime(cfg, g.Logger)
	defer rt.close()

	return daemon.Watch(ctx, rt.orch, w.Dir, cfg.Daemon.WatchDebounce, cfg.Build.OutputDir, cfg.Log.File)
}
