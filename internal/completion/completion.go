// Package completion wraps the language-generation service.
package completion

import (
	"context"

	"github.com/antoniostano/voicechat/internal/chat"
)

const DefaultSystemPrompt = "You are a helpful assistant."

// Completer produces the assistant reply for prompt. history holds earlier
// turns of the same session, oldest first, and may be empty.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, prompt string) (string, error)
}
