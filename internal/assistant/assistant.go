// Package assistant talks to the Anthropic Messages API on behalf of a user
// and resolves natural-language due dates for reminders.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var (
	ErrUnavailable = errors.New("assistant not configured")
	ErrEmptyReply  = errors.New("assistant returned no text")
)

const defaultMaxTokens = 1024

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one chat message in API order.
type Turn struct {
	Role    string
	Content string
}

type Completer interface {
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
}

type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicCompleter(apiKey, model string) (*AnthropicCompleter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrUnavailable
	}
	return &AnthropicCompleter{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: defaultMaxTokens,
	}, nil
}

func (c *AnthropicCompleter) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	messages, err := toMessageParams(turns)
	if err != nil {
		return "", err
	}
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(reply.String())
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// toMessageParams merges consecutive turns of the same role and drops a
// leading assistant turn; the API requires alternating roles starting with
// the user.
func toMessageParams(turns []Turn) ([]anthropic.MessageParam, error) {
	merged := normalizeTurns(turns)
	if len(merged) == 0 {
		return nil, errors.New("no user message")
	}
	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, turn := range merged {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out, nil
}

func normalizeTurns(turns []Turn) []Turn {
	var out []Turn
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := RoleUser
		if turn.Role == RoleAssistant {
			role = RoleAssistant
		}
		if len(out) == 0 && role == RoleAssistant {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content += "\n\n" + content
			continue
		}
		out = append(out, Turn{Role: role, Content: content})
	}
	return out
}
