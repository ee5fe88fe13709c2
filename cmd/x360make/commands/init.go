package commands

import (
	"fmt"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	return RunInit(root.Config, i.Force)
}

func RunInit(configPath string, force bool) error {
	fmt.Printf("Writing configuration to %s\n", configPath)
	if err := config.Init(configPath, force); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "initialization failed").Build()
	}
	fmt.Println("initialized successfully")
	return nil
}
