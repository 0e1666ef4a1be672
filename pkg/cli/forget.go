package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/urfave/cli/v3"
)

func forgetCommand() *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := []cli.Flag{userFlag(&userID)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "forget",
		Usage: "Erase everything remembered about a user",
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

			if err := uc.Forget(ctx, model.UserID(userID)); err != nil {
				return goerr.Wrap(err, "failed to forget user")
			}

			fmt.Fprintf(c.Root().Writer, "Memory of %s erased\n", userID)
			return nil
		},
	}
}
