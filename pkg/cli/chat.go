package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/adapter"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const chatInstruction = `You are a helpful assistant talking with a returning user.`

func chatCommand() *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := []cli.Flag{userFlag(&userID)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation that remembers the user across sessions",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			extractor, gemini, err := cfg.newExtractor(ctx)
			if err != nil {
				return err
			}

			uc, closeAll, err := cfg.newUseCase(ctx, extractor)
			if err != nil {
				return err
			}
			defer closeAll()
			defer uc.Wait()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          c.Root().Writer,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat session started. Type 'exit' to quit.\n")

			conversationID := model.NewTurnID()
			var history []model.Message

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" {
					break
				}
				if message == "" {
					continue
				}

				memoryContext := uc.HandleTurn(ctx, model.Turn{
					UserID:         model.UserID(userID),
					ConversationID: string(conversationID),
					Message:        message,
					History:        history,
				})

				spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				spin.Suffix = " thinking..."
				spin.Start()
				answer, err := reply(ctx, gemini, memoryContext, history, message)
				spin.Stop()
				if err != nil {
					logging.From(ctx).Error("failed to generate reply", "error", err)
					fmt.Fprintf(w, "(no reply: %s)\n", err.Error())
					continue
				}

				fmt.Fprintf(w, "%s\n", answer)
				history = append(history,
					model.Message{Role: model.RoleUser, Content: message},
					model.Message{Role: model.RoleAssistant, Content: answer},
				)
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}

// systemInstruction appends the memory context to the base instruction
func systemInstruction(memoryContext string) string {
	if memoryContext == "" {
		return chatInstruction
	}
	return chatInstruction + "\n\n" + memoryContext
}

// toContents converts host messages into Gemini chat history
func toContents(history []model.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range history {
		switch m.Role {
		case model.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case model.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return contents
}

func reply(ctx context.Context, gemini adapter.Gemini, memoryContext string, history []model.Message, message string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(memoryContext), genai.RoleUser),
	}

	chat, err := gemini.CreateChat(ctx, config, toContents(history))
	if err != nil {
		return "", err
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", goerr.Wrap(err, "failed to send message")
	}
	return resp.Text(), nil
}
