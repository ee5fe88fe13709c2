package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of builds to show" default:"20"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to load configuration").Build()
	}
	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "cannot open build history").
			WithContext("path", cfg.History.Path).Build()
	}
	defer func() { _ = store.Close() }()

	builds, err := store.Recent(context.Background(), h.Limit)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "cannot read build history").Build()
	}
	return printHistory(os.Stdout, builds)
}

var stateColors = map[string]*color.Color{
	"succeeded": color.New(color.FgGreen),
	"failed":    color.New(color.FgRed),
	"cancelled": color.New(color.FgYellow),
}

func printHistory(w io.Writer, builds []history.Build) error {
	if len(builds) == 0 {
		_, err := fmt.Fprintln(w, "No builds recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATE\tDURATION\tSOURCE\tRESULT")
	for _, b := range builds {
		state := b.State
		if c, ok := stateColors[state]; ok {
			state = c.Sprint(state)
		}
		result := b.Artifact
		if b.Error != "" {
			result = b.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			b.Started.Local().Format(time.DateTime),
			state,
			b.Duration.Round(time.Millisecond),
			b.Source,
			result)
	}
	return tw.Flush()
}
