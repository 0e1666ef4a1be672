// Package mcp exposes the memory pipeline to MCP hosts.
package mcp

import (
	"context"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Memory is the subset of the memory usecase served over MCP
type Memory interface {
	Recall(ctx context.Context, userID model.UserID) (string, error)
	HandleTurn(ctx context.Context, turn model.Turn) string
	WaitUser(ctx context.Context, userID model.UserID) error
	Forget(ctx context.Context, userID model.UserID) error
	SetEnabled(ctx context.Context, userID model.UserID, enabled bool) error
}

type recallParams struct {
	UserID string `json:"user_id" jsonschema:"ID of the user whose memory is rendered"`
}

type message struct {
	Role    string `json:"role" jsonschema:"user, assistant or system"`
	Content string `json:"content" jsonschema:"Message text"`
}

type processTurnParams struct {
	UserID         string    `json:"user_id" jsonschema:"ID of the user who sent the message"`
	ConversationID string    `json:"conversation_id,omitempty" jsonschema:"Host conversation ID, used for logging only"`
	Message        string    `json:"message" jsonschema:"The new user message"`
	History        []message `json:"history,omitempty" jsonschema:"Earlier messages of the conversation, oldest first"`
	Wait           bool      `json:"wait,omitempty" jsonschema:"Block until the memory update of this turn has finished"`
}

type forgetParams struct {
	UserID string `json:"user_id" jsonschema:"ID of the user whose memory is erased"`
}

type setEnabledParams struct {
	UserID  string `json:"user_id" jsonschema:"ID of the user whose memory is switched"`
	Enabled bool   `json:"enabled" jsonschema:"false stops recall and updates for the user, true resumes them"`
}

// Server serves memory tools
type Server struct {
	memory  Memory
	server  *mcp.Server
	version string
}

// NewServer creates an MCP server exposing the memory tools
func NewServer(memory Memory, version string) *Server {
	s := &Server{
		memory:  memory,
		version: version,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "memento",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "recall",
		Description: "Return what is remembered about the user as a text block to add to the conversation context",
	}, s.recall)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "process_turn",
		Description: "Hand over a new user message. Returns the memory context for this turn and updates the memory from the conversation in the background",
	}, s.processTurn)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "forget",
		Description: "Erase everything remembered about the user",
	}, s.forget)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_memory_enabled",
		Description: "Turn memory on or off for the user. Stored facts are kept while it is off",
	}, s.setEnabled)

	return s
}

// RunStdio serves over stdin/stdout until ctx is cancelled or the peer disconnects
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Handler returns a streamable HTTP handler
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func requireUserID(id string) (model.UserID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", goerr.New("user_id is required")
	}
	return model.UserID(id), nil
}

func (s *Server) recall(ctx context.Context, req *mcp.CallToolRequest, params *recallParams) (*mcp.CallToolResult, any, error) {
	userID, err := requireUserID(params.UserID)
	if err != nil {
		return nil, nil, err
	}

	text, err := s.memory.Recall(ctx, userID)
	if err != nil {
		logging.From(ctx).Error("recall failed", "error", err, "user_id", userID)
		return nil, nil, goerr.New("memory is unavailable")
	}
	return textResult(text), nil, nil
}

func (s *Server) processTurn(ctx context.Context, req *mcp.CallToolRequest, params *processTurnParams) (*mcp.CallToolResult, any, error) {
	userID, err := requireUserID(params.UserID)
	if err != nil {
		return nil, nil, err
	}

	turn := model.Turn{
		ID:             model.NewTurnID(),
		UserID:         userID,
		ConversationID: params.ConversationID,
		Message:        params.Message,
	}
	for _, m := range params.History {
		turn.History = append(turn.History, model.Message{Role: model.Role(m.Role), Content: m.Content})
	}

	text := s.memory.HandleTurn(ctx, turn)
	if params.Wait {
		if err := s.memory.WaitUser(ctx, userID); err != nil {
			logging.From(ctx).Warn("stopped waiting for memory update", "error", err, "user_id", userID)
		}
	}
	return textResult(text), nil, nil
}

func (s *Server) forget(ctx context.Context, req *mcp.CallToolRequest, params *forgetParams) (*mcp.CallToolResult, any, error) {
	userID, err := requireUserID(params.UserID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.memory.Forget(ctx, userID); err != nil {
		logging.From(ctx).Error("forget failed", "error", err, "user_id", userID)
		return nil, nil, goerr.New("failed to erase memory")
	}
	return textResult("Memory erased"), nil, nil
}

func (s *Server) setEnabled(ctx context.Context, req *mcp.CallToolRequest, params *setEnabledParams) (*mcp.CallToolResult, any, error) {
	userID, err := requireUserID(params.UserID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.memory.SetEnabled(ctx, userID, params.Enabled); err != nil {
		logging.From(ctx).Error("memory switch failed", "error", err, "user_id", userID)
		return nil, nil, goerr.New("failed to change memory setting")
	}
	if params.Enabled {
		return textResult("Memory turned on"), nil, nil
	}
	return textResult("Memory turned off"), nil, nil
}
