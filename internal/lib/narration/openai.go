package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gravewalk/server/internal/lib/navigation"
)

// openAINarrator implements the Narrator interface using OpenAI
type openAINarrator struct {
	client *openai.Client
	model  string
}

type narrationResponse struct {
	Narration string `json:"narration"`
}

// NewOpenAINarrator creates a Narrator backed by the OpenAI chat API.
// An empty apiKey yields a narrator that always errors.
func NewOpenAINarrator(apiKey, model string) Narrator {
	if apiKey == "" {
		return &openAINarrator{client: nil, model: model}
	}
	return &openAINarrator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAINarratorWithConfig creates a Narrator with a custom client configuration
func NewOpenAINarratorWithConfig(config openai.ClientConfig, model string) Narrator {
	return &openAINarrator{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Narrate phrases g as a single sentence
func (n *openAINarrator) Narrate(ctx context.Context, g navigation.Guidance) (string, error) {
	if n.client == nil {
		return "", errors.New("OpenAI client not initialized - invalid API key")
	}

	state, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to marshal guidance: %w", err)
	}

	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Navigation state:\n" + string(state),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.4,
		MaxTokens:   120,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI API")
	}

	var parsed narrationResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI JSON response: %w", err)
	}

	text := strings.TrimSpace(parsed.Narration)
	if text == "" {
		// Fallback to the fixed instruction
		return g.Instruction, nil
	}
	return truncate(text, MaxNarrationLength), nil
}

// HealthCheck verifies OpenAI API connectivity
func (n *openAINarrator) HealthCheck(ctx context.Context) error {
	if n.client == nil {
		return errors.New("OpenAI client not initialized")
	}

	_, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Test",
			},
		},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("OpenAI API health check failed: %w", err)
	}

	return nil
}

// truncate cuts s to at most limit runes, ending in an ellipsis when shortened
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
