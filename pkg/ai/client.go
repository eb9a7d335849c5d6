// Package ai answers operator questions through the Anthropic API, with
// replies constrained to fit LoRa frames.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tinyland-inc/meshclaw/pkg/config"
)

const defaultModel = "claude-haiku-4-5"

// systemPrompt keeps answers short enough for a single mesh reply.
const systemPrompt = "You answer questions relayed over a LoRa mesh radio network. " +
	"Radio frames are tiny: answer in at most two short sentences, plain text, " +
	"no markdown. If the question cannot be answered briefly, say so."

type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

func NewClient(cfg config.AIConfig) *Client {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 300
	}

	return &Client{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Ask sends one question and returns the model's text answer.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(question)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			tb := block.AsText()
			sb.WriteString(tb.Text)
		}
	}

	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", fmt.Errorf("empty model response")
	}
	return answer, nil
}
