package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/logsink"
)

// Global carries state shared by all subcommands.
type Global struct {
	Logger *slog.Logger
	Sink   *logsink.Sink
}

// Close flushes and closes the log sink, if one was opened.
func (g *Global) Close() {
	if g.Sink != nil {
		_ = g.Sink.Close()
		g.Sink = nil
	}
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"x360make.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	NoColor bool             `name:"no-color" help:"Disable coloured console output"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build a source directory or remote repository"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	Watch   WatchCmd   `cmd:"" help:"Rebuild a local directory whenever it changes"`
	Daemon  DaemonCmd  `cmd:"" help:"Rebuild a source on a schedule and serve metrics"`
	History HistoryCmd `cmd:"" help:"Show recent builds"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply(g *Global) error {
	if c.NoColor {
		color.NoColor = true
	}
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	g.Logger = logger
	return nil
}

// loadRuntime loads the configuration and routes slog through the rotating
// log sink.
func loadRuntime(root *CLI, g *Global) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to load configuration").
			WithContext("path", root.Config).Build()
	}

	level, err := logsink.ParseLevel(string(cfg.Log.Level))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid log level").Build()
	}
	if root.Verbose {
		level = logsink.LevelDebug
	}
	sink := logsink.New(logsink.Config{
		Path:          cfg.Log.File,
		MaxFileSize:   cfg.Log.MaxSize,
		Console:       cfg.Log.Console,
		ConsoleWriter: os.Stderr,
		MinLevel:      level,
		MaxQueueDepth: cfg.Log.QueueDepth,
	})
	g.Sink = sink
	g.Logger = slog.New(sink.Handler())
	slog.SetDefault(g.Logger)
	return cfg, nil
}
