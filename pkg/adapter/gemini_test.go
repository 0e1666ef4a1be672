package adapter_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memento/pkg/adapter"
	"google.golang.org/genai"
)

func newGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}
	location := os.Getenv("TEST_GEMINI_LOCATION")
	if location == "" {
		location = "us-central1"
	}

	client, err := adapter.NewGemini(context.Background(), projectID, location,
		adapter.WithGenerativeModel(adapter.DefaultGenerativeModel))
	gt.NoError(t, err)
	return client
}

func TestGeminiGenerateJSON(t *testing.T) {
	client := newGemini(t)
	ctx := context.Background()

	contents := []*genai.Content{
		genai.NewContentFromText(`Return {"facts": []} and nothing else.`, genai.RoleUser),
	}
	resp, err := client.GenerateContent(ctx, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	gt.NoError(t, err)
	gt.S(t, resp.Text()).Contains("facts")
}

func TestGeminiChatUsesMemoryContext(t *testing.T) {
	client := newGemini(t)
	ctx := context.Background()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			"You are a helpful assistant.\n\nUser Profile:\n- Vehicle: 2006 Corvette Z06", genai.RoleUser),
	}
	history := []*genai.Content{
		genai.NewContentFromText("Hi there", genai.RoleUser),
		genai.NewContentFromText("Hello! How can I help?", genai.RoleModel),
	}

	chat, err := client.CreateChat(ctx, config, history)
	gt.NoError(t, err)

	resp, err := chat.SendMessage(ctx, genai.Part{Text: "Which car do I drive? Answer with the model name only."})
	gt.NoError(t, err)
	gt.True(t, strings.Contains(strings.ToLower(resp.Text()), "corvette"))
}
