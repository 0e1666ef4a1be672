package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

type extractOutput struct {
	TurnID    model.TurnID       `json:"turn_id"`
	Written   bool               `json:"written"`
	Skipped   string             `json:"skipped,omitempty"`
	Added     int                `json:"added"`
	Updated   int                `json:"updated"`
	Refreshed int                `json:"refreshed"`
	Removed   int                `json:"removed"`
	Cleared   bool               `json:"cleared,omitempty"`
	Rejected  []memory.Rejection `json:"rejected,omitempty"`
	Version   int64              `json:"version"`
	Total     int                `json:"total"`
}

func extractCommand() *cli.Command {
	var (
		cfg    config
		userID string
		input  string
	)

	flags := []cli.Flag{
		userFlag(&userID),
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "JSON file with an array of {role, content} messages, stdin if omitted",
			Destination: &input,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "extract",
		Usage: "Update the user's memory from a conversation once and print the outcome",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, c.Root().ErrWriter)
			if err != nil {
				return err
			}

			messages, err := readMessages(input, c.Root().Reader)
			if err != nil {
				return err
			}

			extractor, _, err := cfg.newExtractor(ctx)
			if err != nil {
				return err
			}

			uc, closeAll, err := cfg.newUseCase(ctx, extractor)
			if err != nil {
				return err
			}
			defer closeAll()

			result, err := uc.Update(ctx, model.UserID(userID), messages)
			if err != nil {
				return goerr.Wrap(err, "failed to update memory")
			}

			return writeJSON(c.Root().Writer, extractOutput{
				TurnID:    result.TurnID,
				Written:   result.Written,
				Skipped:   result.Skipped,
				Added:     result.Stats.Added,
				Updated:   result.Stats.Updated,
				Refreshed: result.Stats.Refreshed,
				Removed:   result.Stats.Removed,
				Cleared:   result.Stats.Cleared,
				Rejected:  result.Rejected,
				Version:   result.Version,
				Total:     result.Total,
			})
		},
	}
}

func readMessages(path string, stdin io.Reader) ([]model.Message, error) {
	var r io.Reader = stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open input", goerr.V("path", path))
		}
		defer f.Close()
		r = f
	}
	if r == nil {
		r = os.Stdin
	}

	var messages []model.Message
	if err := json.NewDecoder(r).Decode(&messages); err != nil {
		return nil, goerr.Wrap(err, "failed to decode messages")
	}
	return messages, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	fmt.Fprintf(w, "%s\n", string(data))
	return nil
}
