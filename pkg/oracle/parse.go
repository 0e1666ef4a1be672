package oracle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
)

var (
	ErrParse = goerr.New("failed to parse oracle response")
)

type rawFact struct {
	Type       string   `json:"type"`
	Subject    string   `json:"subject"`
	Value      any      `json:"value"`
	Sentiment  string   `json:"sentiment"`
	Confidence *float64 `json:"confidence"`
	Op         string   `json:"op"`
	Action     string   `json:"action"`
}

type rawResponse struct {
	Facts *[]rawFact `json:"facts"`
}

// Parsed is the outcome of parsing one oracle response
type Parsed struct {
	Facts []model.Fact
	// Skipped holds one reason per dropped item. Reasons never contain fact text.
	Skipped []string
}

// ParseResponse returns the candidate facts in raw, in listed order
func ParseResponse(raw string) ([]model.Fact, error) {
	p, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return p.Facts, nil
}

// Parse accepts `{"facts": [...]}` or a bare array, optionally wrapped in a
// markdown fence or prefixed with "json". Items missing a type or subject and
// items with an unknown type or op are skipped; the rest of the response still
// counts. Anything else that is not the expected structure is ErrParse.
func Parse(raw string) (*Parsed, error) {
	text := unwrap(raw)
	if text == "" {
		return nil, goerr.Wrap(ErrParse, "empty response")
	}

	items, err := decode(text)
	if err != nil {
		// prose around the payload
		if inner := outermostJSON(text); inner != "" && inner != text {
			items, err = decode(inner)
		}
		if err != nil {
			return nil, err
		}
	}

	p := &Parsed{Facts: make([]model.Fact, 0, len(items))}
	for i, item := range items {
		fact, reason := toFact(item)
		if reason != "" {
			p.Skipped = append(p.Skipped, fmt.Sprintf("item %d: %s", i, reason))
			continue
		}
		p.Facts = append(p.Facts, fact)
	}
	return p, nil
}

func unwrap(raw string) string {
	text := strings.TrimSpace(raw)

	if start := strings.Index(text, "```"); start >= 0 {
		rest := text[start+3:]
		// drop the info string, e.g. ```json
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimPrefix(strings.TrimPrefix(rest, "json"), "JSON")
		}
		if end := strings.LastIndex(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
		text = strings.TrimSpace(text[4:])
	}
	return text
}

func decode(text string) ([]rawFact, error) {
	if strings.HasPrefix(text, "[") {
		var items []rawFact
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, goerr.Wrap(ErrParse, "invalid fact array", goerr.V("error", err.Error()))
		}
		return items, nil
	}

	var resp rawResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, goerr.Wrap(ErrParse, "invalid response object", goerr.V("error", err.Error()))
	}
	if resp.Facts == nil {
		return nil, goerr.Wrap(ErrParse, "facts field is missing")
	}
	return *resp.Facts, nil
}

func outermostJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}

func parseOp(s string) (model.FactOp, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "add", "assert", "update", "upsert":
		return model.FactOpAssert, true
	case "remove", "delete", "forget", "negate":
		return model.FactOpRemove, true
	case "clear", "clear_all", "reset":
		return model.FactOpClear, true
	default:
		return "", false
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func toFact(item rawFact) (model.Fact, string) {
	opText := item.Op
	if opText == "" {
		opText = item.Action
	}
	op, ok := parseOp(opText)
	if !ok {
		return model.Fact{}, "unknown op"
	}

	fact := model.Fact{
		Type:       model.FactType(strings.ToLower(strings.TrimSpace(item.Type))),
		Subject:    strings.TrimSpace(item.Subject),
		Value:      strings.TrimSpace(stringify(item.Value)),
		Sentiment:  model.Sentiment(item.Sentiment).Normalize(),
		Confidence: model.DefaultConfidence,
		Op:         op,
	}
	if item.Confidence != nil {
		fact.Confidence = model.ClampConfidence(*item.Confidence)
	}

	if op == model.FactOpClear {
		if fact.Type != "" && fact.Type.Validate() != nil {
			return model.Fact{}, "unknown type"
		}
		return fact, ""
	}

	if fact.Type == "" {
		return model.Fact{}, "missing type"
	}
	if fact.Subject == "" {
		return model.Fact{}, "missing subject"
	}
	if err := fact.Type.Validate(); err != nil {
		return model.Fact{}, "unknown type"
	}
	if op == model.FactOpAssert && fact.Value == "" {
		return model.Fact{}, "missing value"
	}
	return fact, ""
}
