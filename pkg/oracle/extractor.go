package oracle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/adapter"
	"google.golang.org/genai"
)

var (
	ErrOracle  = goerr.New("extraction oracle failed")
	ErrTimeout = goerr.New("extraction oracle timed out")
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2048
)

// Extractor calls the oracle for one request and returns its raw text
type Extractor struct {
	gemini      adapter.Gemini
	timeout     time.Duration
	temperature float32
	maxTokens   int32
	schema      *genai.Schema
}

type ExtractorOption func(*Extractor)

func WithTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) {
		e.timeout = d
	}
}

func WithTemperature(t float32) ExtractorOption {
	return func(e *Extractor) {
		e.temperature = t
	}
}

func WithMaxTokens(n int32) ExtractorOption {
	return func(e *Extractor) {
		e.maxTokens = n
	}
}

func NewExtractor(gemini adapter.Gemini, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		gemini:      gemini,
		timeout:     DefaultTimeout,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		schema:      genaiResponseSchema,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract sends req to the oracle and returns the response text. Failures are
// ErrOracle, an exceeded deadline is ErrTimeout.
func (e *Extractor) Extract(ctx context.Context, req *Request) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(e.temperature),
		MaxOutputTokens:  e.maxTokens,
		ResponseMIMEType: "application/json",
		ResponseSchema:   e.schema,
	}
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := e.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", goerr.Wrap(ErrTimeout, "oracle call exceeded deadline", goerr.V("timeout", e.timeout.String()))
		}
		return "", goerr.Wrap(ErrOracle, "failed to generate content", goerr.V("error", err.Error()))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.Wrap(ErrOracle, "invalid response structure from gemini")
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", goerr.Wrap(ErrOracle, "empty response from gemini")
	}
	return text, nil
}
