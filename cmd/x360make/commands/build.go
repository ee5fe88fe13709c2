package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Source        string `arg:"" help:"Local directory or repository URL"`
	Mode          string `help:"Source mode: auto, local or remote" default:"auto" enum:"auto,local,remote"`
	Output        string `short:"o" help:"Output directory (overrides build.output_dir)"`
	RetainStaging bool   `name:"retain-staging" help:"Keep the staging directory after the build"`
	Jobs          int    `short:"j" help:"Parallel compile jobs (overrides build.compile_workers)"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadRuntime(root, g)
	if err != nil {
		return err
	}
	b.apply(cfg)

	mode, err := pipeline.ParseMode(b.Mode)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid mode").Build()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt := newBuildRuntime(cfg, g.Logger, pipeline.WithProgress(func(p pipeline.Progress) {
		g.Logger.Debug("Progress", logfields.State(p.State.String()), logfields.Percent(p.Percent))
	}))
	defer rt.close()

	res, err := rt.orch.RunBuild(ctx, b.Source, mode)
	if err != nil {
		return err
	}
	if res.Artifact != "" {
		fmt.Printf("Built %s\n", res.Artifact)
	} else {
		fmt.Println("Build succeeded")
	}
	return nil
}

// apply copies command line overrides into cfg.
func (b *BuildCmd) apply(cfg *config.Config) {
	if b.Output != "" {
		cfg.Build.OutputDir = b.Output
	}
	if b.RetainStaging {
		cfg.Build.RetainStaging = true
	}
	if b.Jobs > 0 {
		cfg.Build.CompileWorkers = b.Jobs
	}
}
