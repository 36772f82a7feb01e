package completion

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/failure"
	"github.com/antoniostano/voicechat/internal/reliability"
)

const DefaultModel = "gpt-4o"

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// ErrorObserver is told about every upstream failure.
type ErrorObserver interface {
	ObserveProviderError(provider, code string)
}

// OpenAICompleter issues one chat completion per call. The SDK's built-in
// retries are disabled; retrying is left to the caller.
type OpenAICompleter struct {
	client   openai.Client
	model    string
	system   string
	logger   *slog.Logger
	observer ErrorObserver
}

func NewOpenAICompleter(cfg OpenAIConfig, logger *slog.Logger) *OpenAICompleter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAICompleter{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
		logger: logger,
	}
}

// WithObserver attaches o and returns c.
func (c *OpenAICompleter) WithObserver(o ErrorObserver) *OpenAICompleter {
	c.observer = o
	return c
}

func (c *OpenAICompleter) Complete(ctx context.Context, history []chat.Message, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: buildMessages(c.system, history, prompt),
	})
	if err != nil {
		return "", c.classify(err)
	}
	if len(resp.Choices) == 0 {
		c.report("empty_choices")
		return "", failure.Upstream("No completion returned", nil)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		c.report("empty_content")
		return "", failure.Upstream("No completion returned", nil)
	}
	return text, nil
}

func buildMessages(system string, history []chat.Message, prompt string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	out = append(out, openai.SystemMessage(system))
	for _, m := range history {
		text := strings.TrimSpace(m.Content.Text)
		if text == "" {
			continue
		}
		switch m.Role {
		case chat.RoleUser:
			out = append(out, openai.UserMessage(text))
		case chat.RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		}
	}
	out = append(out, openai.UserMessage(prompt))
	return out
}

func (c *OpenAICompleter) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		c.report(strconv.Itoa(apiErr.StatusCode))
		c.logger.Warn("completion service returned error", slog.Int("status", apiErr.StatusCode))
		f := failure.Upstream("Completion request failed", err)
		f.Status = apiErr.StatusCode
		f.Detail = apiErr.Message
		f.Retryable = reliability.IsRetryableHTTPStatus(apiErr.StatusCode)
		return f
	}
	c.report("transport")
	f := failure.Upstream("Completion request failed", err)
	f.Detail = err.Error()
	f.Retryable = reliability.IsRetryableError(err)
	return f
}

func (c *OpenAICompleter) report(code string) {
	if c.observer != nil {
		c.observer.ObserveProviderError("openai", code)
	}
}
