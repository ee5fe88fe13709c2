package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/x360make/cmd/x360make/commands"
	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{}
	parser := kong.Parse(cli,
		kong.Name("x360make"),
		kong.Description("Fetch, compile, link and pack Xbox 360 homebrew projects"),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
		kong.UsageOnError(),
	)

	err := parser.Run(global, cli)
	if err == nil {
		global.Close()
		return
	}

	adapter := errors.NewCLIErrorAdapter(cli.Verbose, slog.Default())
	code := adapter.ExitCodeFor(err)
	slog.Error("Command failed", logfields.Error(err), logfields.ExitCode(code))
	global.Close()
	fmt.Fprintln(os.Stderr, adapter.FormatError(err))
	os.Exit(code)
}
