// Package speech wraps the speech-to-text and text-to-speech services.
package speech

import "context"

// Transcript is the result of a speech-to-text call.
type Transcript struct {
	Text         string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

// Recognizer turns canonical WAV bytes into text.
type Recognizer interface {
	SpeechToText(ctx context.Context, wav []byte) (Transcript, error)
}

// Synthesizer turns text into base64-encoded audio.
type Synthesizer interface {
	TextToSpeech(ctx context.Context, text, languageCode string) (string, error)
}

// Provider is both halves of a speech service.
type Provider interface {
	Recognizer
	Synthesizer
}

const (
	MsgNoTranscript = "No transcript returned from STT"
	MsgNoAudio      = "No audio returned from TTS"
)
