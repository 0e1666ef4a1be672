// Package oracle talks to the language model that proposes candidate facts.
// It builds the extraction request and parses whatever text comes back; the
// result is untrusted until it passes pii.Validator.
package oracle

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/pii"
)

//go:embed prompt/extract.md
var extractPromptRaw string

var extractPromptTmpl = template.Must(template.New("extract").Parse(extractPromptRaw))

// DefaultWindowSize is how many recent messages are sent to the oracle
const DefaultWindowSize = 10

// Request is the payload of one extraction call
type Request struct {
	Prompt   string
	Existing []model.Fact
	Messages []model.Message
}

type promptFact struct {
	Type       model.FactType  `json:"type"`
	Subject    string          `json:"subject"`
	Value      string          `json:"value"`
	Sentiment  model.Sentiment `json:"sentiment"`
	Confidence float64         `json:"confidence"`
	LastSeen   string          `json:"last_seen,omitempty"`
}

// Window returns the last n user and assistant messages. n <= 0 uses DefaultWindowSize.
func Window(messages []model.Message, n int) []model.Message {
	if n <= 0 {
		n = DefaultWindowSize
	}

	conversation := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		conversation = append(conversation, m)
	}

	if len(conversation) > n {
		conversation = conversation[len(conversation)-n:]
	}
	return conversation
}

type requestOptions struct {
	redactionToken string
}

type RequestOption func(*requestOptions)

// WithRedactionToken tells the oracle which token marks removed text
func WithRedactionToken(token string) RequestOption {
	return func(o *requestOptions) {
		o.redactionToken = token
	}
}

// BuildRequest renders the extraction prompt from the existing facts and a
// conversation window. Messages must already be scrubbed.
func BuildRequest(existing []model.Fact, window []model.Message, opts ...RequestOption) (*Request, error) {
	o := requestOptions{redactionToken: pii.DefaultRedactionToken}
	for _, opt := range opts {
		opt(&o)
	}
	if window == nil {
		window = []model.Message{}
	}

	facts := make([]promptFact, 0, len(existing))
	for _, f := range existing {
		pf := promptFact{
			Type:       f.Type,
			Subject:    f.Subject,
			Value:      f.Value,
			Sentiment:  f.Sentiment,
			Confidence: f.Confidence,
		}
		if !f.LastSeen.IsZero() {
			pf.LastSeen = f.LastSeen.Format("2006-01-02")
		}
		facts = append(facts, pf)
	}

	factsJSON, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal existing facts")
	}
	messagesJSON, err := json.MarshalIndent(window, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal conversation window")
	}

	var buf bytes.Buffer
	if err := extractPromptTmpl.Execute(&buf, map[string]any{
		"FactsJSON":      string(factsJSON),
		"MessagesJSON":   string(messagesJSON),
		"RedactionToken": o.redactionToken,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute extract prompt template")
	}

	return &Request{
		Prompt:   buf.String(),
		Existing: existing,
		Messages: window,
	}, nil
}
