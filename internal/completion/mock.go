package completion

import (
	"context"
	"strings"

	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/failure"
)

// MockCompleter echoes the prompt. Used when no completion credentials are
// configured.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, _ []chat.Message, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", failure.Upstream("Completion request failed", err)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "I didn't catch that.", nil
	}
	return "I heard you: " + prompt, nil
}
