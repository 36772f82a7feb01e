package speech

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/antoniostano/voicechat/internal/audio"
	"github.com/antoniostano/voicechat/internal/failure"
)

// MockProvider is a local fallback used when no speech credentials are
// configured. It recognizes a fixed phrase and synthesizes silence sized to
// the reply text.
type MockProvider struct {
	Text         string
	LanguageCode string
}

func NewMockProvider(languageCode string) *MockProvider {
	return &MockProvider{Text: "simulated voice input", LanguageCode: languageCode}
}

func (p *MockProvider) SpeechToText(ctx context.Context, wav []byte) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, failure.Upstream("STT request failed", err)
	}
	if len(wav) == 0 {
		return Transcript{}, failure.Upstream(MsgNoTranscript, nil)
	}
	return Transcript{Text: p.Text, LanguageCode: p.LanguageCode}, nil
}

func (p *MockProvider) TextToSpeech(ctx context.Context, text, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", failure.Upstream("TTS request failed", err)
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return "", failure.Upstream(MsgNoAudio, nil)
	}
	// ~300ms of silence per word, capped at 10s.
	d := time.Duration(words) * 300 * time.Millisecond
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	samples := int(d.Seconds() * audio.CanonicalSampleRate)
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, samples*2), audio.CanonicalSampleRate)
	if err != nil {
		return "", failure.Internal(err)
	}
	return base64.StdEncoding.EncodeToString(wav), nil
}
