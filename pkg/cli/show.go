package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg    config
		userID string
		asJSON bool
	)

	flags := []cli.Flag{
		userFlag(&userID),
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the stored facts as JSON instead of the injected context",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show what is remembered about a user",
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

			if asJSON {
				facts, err := uc.Facts(ctx, model.UserID(userID))
				if err != nil {
					return goerr.Wrap(err, "failed to show facts")
				}
				if facts == nil {
					facts = []model.Fact{}
				}
				return writeJSON(c.Root().Writer, facts)
			}

			enabled, err := uc.Enabled(ctx, model.UserID(userID))
			if err != nil {
				return goerr.Wrap(err, "failed to show memory")
			}
			if !enabled {
				fmt.Fprintf(c.Root().Writer, "Memory is turned off for %s\n", userID)
				return nil
			}

			text, err := uc.Recall(ctx, model.UserID(userID))
			if err != nil {
				return goerr.Wrap(err, "failed to show memory")
			}
			if text == "" {
				fmt.Fprintf(c.Root().Writer, "Nothing remembered about %s\n", userID)
				return nil
			}
			fmt.Fprintf(c.Root().Writer, "%s\n", text)
			return nil
		},
	}
}
