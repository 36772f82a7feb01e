package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/antoniostano/voicechat/internal/completion"
	"github.com/antoniostano/voicechat/internal/config"
	"github.com/antoniostano/voicechat/internal/observability"
	"github.com/antoniostano/voicechat/internal/speech"
)

type speechSetup struct {
	provider speech.Provider
	resolved string
}

func resolveSpeechProvider(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	trySarvam := func() (speechSetup, bool) {
		if strings.TrimSpace(cfg.SarvamAPIKey) == "" {
			return speechSetup{}, false
		}
		voice := speech.DefaultVoice()
		if cfg.SarvamTTSSpeaker != "" {
			voice.Speaker = cfg.SarvamTTSSpeaker
		}
		c := speech.NewSarvamClient(speech.SarvamConfig{
			APIKey:   cfg.SarvamAPIKey,
			BaseURL:  cfg.SarvamBaseURL,
			STTModel: cfg.SarvamSTTModel,
			TTSModel: cfg.SarvamTTSModel,
			Voice:    voice,
			Timeout:  cfg.SarvamTimeout,
		}, logger).WithObserver(metrics)
		return speechSetup{provider: c, resolved: "sarvam"}, true
	}
	mock := speechSetup{provider: speech.NewMockProvider(cfg.DefaultLanguage), resolved: "mock"}

	switch mode {
	case "sarvam":
		s, ok := trySarvam()
		if !ok {
			return speechSetup{}, fmt.Errorf("VOICE_PROVIDER=sarvam but SARVAM_API_KEY is not set")
		}
		return s, nil
	case "mock":
		return mock, nil
	case "auto":
		if s, ok := trySarvam(); ok {
			return s, nil
		}
		logger.Warn("SARVAM_API_KEY not set, using mock speech provider")
		return mock, nil
	default:
		return speechSetup{}, fmt.Errorf("unknown VOICE_PROVIDER %q", cfg.VoiceProvider)
	}
}

type completionSetup struct {
	completer completion.Completer
	resolved  string
}

func resolveCompleter(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (completionSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.CompletionProvider))
	if mode == "" {
		mode = "auto"
	}

	tryOpenAI := func() (completionSetup, bool) {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return completionSetup{}, false
		}
		c := completion.NewOpenAICompleter(completion.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.OpenAISystemPrompt,
			Timeout:      cfg.OpenAITimeout,
		}, logger).WithObserver(metrics)
		return completionSetup{completer: c, resolved: "openai"}, true
	}
	mock := completionSetup{completer: completion.NewMockCompleter(), resolved: "mock"}

	switch mode {
	case "openai":
		s, ok := tryOpenAI()
		if !ok {
			return completionSetup{}, fmt.Errorf("COMPLETION_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		return s, nil
	case "mock":
		return mock, nil
	case "auto":
		if s, ok := tryOpenAI(); ok {
			return s, nil
		}
		logger.Warn("OPENAI_API_KEY not set, using mock completer")
		return mock, nil
	default:
		return completionSetup{}, fmt.Errorf("unknown COMPLETION_PROVIDER %q", cfg.CompletionProvider)
	}
}
