package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/urfave/cli/v3"
)

func enableCommand() *cli.Command {
	return switchCommand("enable", "Turn memory back on for a user", true)
}

func disableCommand() *cli.Command {
	return switchCommand("disable", "Turn memory off for a user without erasing it", false)
}

func switchCommand(name, usage string, enabled bool) *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := []cli.Flag{userFlag(&userID)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, c.Root().ErrWriter)
			if err != nil {
				return err
			}

			uc, closeAll, err := cfg.newUseCase(ctx, nil)
			if err != nil {
				return err
			}
			defer closeAll()

			if err := uc.SetEnabled(ctx, model.UserID(userID), enabled); err != nil {
				return goerr.Wrap(err, "failed to change memory setting", goerr.V("enabled", enabled))
			}

			state := "off"
			if enabled {
				state = "on"
			}
			fmt.Fprintf(c.Root().Writer, "Memory of %s turned %s\n", userID, state)
			return nil
		},
	}
}
