package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

// version is overwritten at build time with -ldflags
var version = "dev"

type Error struct {
	Code    int
	Message string
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "memento",
		Usage:   "Privacy-filtered long-term memory for conversations",
		Version: version,
		Commands: []*cli.Command{
			chatCommand(),
			serveCommand(),
			extractCommand(),
			showCommand(),
			forgetCommand(),
			disableCommand(),
			enableCommand(),
			scanCommand(),
		},
	}
}

func Run(ctx context.Context, argv []string) *Error {
	if err := newApp().Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func userFlag(userID *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "user",
		Aliases:     []string{"u"},
		Usage:       "User ID whose memory is used",
		Sources:     cli.EnvVars("MEMENTO_USER_ID"),
		Destination: userID,
		Required:    true,
	}
}
