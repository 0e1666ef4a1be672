package cli

import (
	"context"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type detection struct {
	Pattern string `json:"pattern"`
	Label   string `json:"label"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

type scanOutput struct {
	Scrubbed   string      `json:"scrubbed"`
	Detections []detection `json:"detections"`
}

func scanCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "scan",
		Usage:     "Show which PII the configured detector finds in a text",
		ArgsUsage: "[text]",
		Flags:     globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := cfg.setupLogger(ctx, c.Root().ErrWriter); err != nil {
				return err
			}

			text := strings.Join(c.Args().Slice(), " ")
			if text == "" {
				data, err := io.ReadAll(c.Root().Reader)
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}
				text = string(data)
			}

			filter, err := cfg.newFilter()
			if err != nil {
				return err
			}

			out := scanOutput{
				Scrubbed:   filter.Scrubber.Scrub(text),
				Detections: []detection{},
			}
			// matched text is left out so the output can be shared
			for _, m := range filter.Detector.Detect(text) {
				out.Detections = append(out.Detections, detection{
					Pattern: m.Pattern,
					Label:   m.Label,
					Start:   m.Start,
					End:     m.End,
				})
			}
			return writeJSON(c.Root().Writer, out)
		},
	}
}
