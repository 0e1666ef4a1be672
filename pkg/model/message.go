package model

import "github.com/google/uuid"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation message delivered by the host
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type TurnID string

// NewTurnID generates a new unique TurnID
func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

// Turn is what the host pipeline hands over for every new user message
type Turn struct {
	ID             TurnID
	UserID         UserID
	ConversationID string
	Message        string
	History        []Message
}

// UserMessageCount counts user-authored messages of the whole conversation
func (t Turn) UserMessageCount() int {
	n := 0
	for _, m := range t.Messages() {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Messages returns history followed by the new message. Hosts that already
// include the new message at the end of history are handled too.
func (t Turn) Messages() []Message {
	out := make([]Message, 0, len(t.History)+1)
	out = append(out, t.History...)
	if t.Message == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Role == RoleUser && out[n-1].Content == t.Message {
		return out
	}
	return append(out, Message{Role: RoleUser, Content: t.Message})
}
