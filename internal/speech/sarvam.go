package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/voicechat/internal/failure"
	"github.com/antoniostano/voicechat/internal/reliability"
)

const (
	DefaultBaseURL  = "https://api.sarvam.ai"
	DefaultSTTModel = "saaras:v2"
	DefaultTTSModel = "bulbul:v2"
	DefaultSpeaker  = "anushka"

	maxResponseBytes = 32 << 20
	maxDetailBytes   = 4 << 10
)

// Voice holds the fixed prosody parameters sent with every synthesis call.
type Voice struct {
	Speaker    string
	Pitch      float64
	Pace       float64
	Loudness   float64
	SampleRate int
}

func DefaultVoice() Voice {
	return Voice{
		Speaker:    DefaultSpeaker,
		Pitch:      0,
		Pace:       1.15,
		Loudness:   1.55,
		SampleRate: 16000,
	}
}

type SarvamConfig struct {
	APIKey   string
	BaseURL  string
	STTModel string
	TTSModel string
	Voice    Voice
	Timeout  time.Duration
}

// ErrorObserver is told about every upstream failure.
type ErrorObserver interface {
	ObserveProviderError(provider, code string)
}

// SarvamClient calls the Sarvam speech REST API. Each operation is a single
// round trip with no retry.
type SarvamClient struct {
	cfg      SarvamConfig
	client   *http.Client
	logger   *slog.Logger
	observer ErrorObserver
}

func NewSarvamClient(cfg SarvamConfig, logger *slog.Logger) *SarvamClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.STTModel == "" {
		cfg.STTModel = DefaultSTTModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = DefaultTTSModel
	}
	if cfg.Voice == (Voice{}) {
		cfg.Voice = DefaultVoice()
	}
	if cfg.Voice.Speaker == "" {
		cfg.Voice.Speaker = DefaultSpeaker
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SarvamClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// WithObserver attaches o and returns c.
func (c *SarvamClient) WithObserver(o ErrorObserver) *SarvamClient {
	c.observer = o
	return c
}

func (c *SarvamClient) SpeechToText(ctx context.Context, wav []byte) (Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	h.Set("Content-Type", "audio/wav")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return Transcript{}, failure.Internal(err)
	}
	if _, err := fw.Write(wav); err != nil {
		return Transcript{}, failure.Internal(err)
	}
	_ = mw.WriteField("model", c.cfg.STTModel)
	_ = mw.WriteField("with_diarization", "false")
	if err := mw.Close(); err != nil {
		return Transcript{}, failure.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/speech-to-text-translate", &body)
	if err != nil {
		return Transcript{}, failure.Internal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.do(req, "stt")
	if err != nil {
		return Transcript{}, err
	}

	var out Transcript
	if err := json.Unmarshal(raw, &out); err != nil {
		c.report("stt", "decode")
		return Transcript{}, failure.Upstream("Invalid STT response", err)
	}
	out.Text = strings.TrimSpace(out.Text)
	out.LanguageCode = strings.TrimSpace(out.LanguageCode)
	if out.Text == "" {
		c.report("stt", "empty_transcript")
		return Transcript{}, failure.Upstream(MsgNoTranscript, nil)
	}
	return out, nil
}

type ttsRequest struct {
	Text               string  `json:"text"`
	TargetLanguageCode string  `json:"target_language_code"`
	Speaker            string  `json:"speaker"`
	Pitch              float64 `json:"pitch"`
	Pace               float64 `json:"pace"`
	Loudness           float64 `json:"loudness"`
	SpeechSampleRate   int     `json:"speech_sample_rate"`
	Model              string  `json:"model"`
}

type ttsResponse struct {
	Audios []string `json:"audios"`
}

func (c *SarvamClient) TextToSpeech(ctx context.Context, text, languageCode string) (string, error) {
	payload, err := json.Marshal(ttsRequest{
		Text:               text,
		TargetLanguageCode: languageCode,
		Speaker:            c.cfg.Voice.Speaker,
		Pitch:              c.cfg.Voice.Pitch,
		Pace:               c.cfg.Voice.Pace,
		Loudness:           c.cfg.Voice.Loudness,
		SpeechSampleRate:   c.cfg.Voice.SampleRate,
		Model:              c.cfg.TTSModel,
	})
	if err != nil {
		return "", failure.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/text-to-speech", bytes.NewReader(payload))
	if err != nil {
		return "", failure.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req, "tts")
	if err != nil {
		return "", err
	}

	var out ttsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		c.report("tts", "decode")
		return "", failure.Upstream("Invalid TTS response", err)
	}
	if len(out.Audios) == 0 || strings.TrimSpace(out.Audios[0]) == "" {
		c.report("tts", "empty_audio")
		return "", failure.Upstream(MsgNoAudio, nil)
	}
	return out.Audios[0], nil
}

// do sends req with credentials and returns the body of a 2xx response. Every
// other outcome is an upstream Failure.
func (c *SarvamClient) do(req *http.Request, op string) ([]byte, error) {
	if c.cfg.APIKey != "" {
		req.Header.Set("api-subscription-key", c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.report(op, "transport")
		f := failure.Upstream(opLabel(op)+" request failed", err)
		f.Retryable = reliability.IsRetryableError(err)
		var uerr interface{ Timeout() bool }
		if errors.As(err, &uerr) && uerr.Timeout() {
			f.Message = opLabel(op) + " request timed out"
		}
		return nil, f
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
		c.report(op, strconv.Itoa(resp.StatusCode))
		c.logger.Warn("speech service returned error",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)
		f := failure.Upstream(fmt.Sprintf("%s failed with status %d", opLabel(op), resp.StatusCode), nil)
		f.Status = resp.StatusCode
		f.Detail = strings.TrimSpace(string(detail))
		f.Retryable = reliability.IsRetryableHTTPStatus(resp.StatusCode)
		return nil, f
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.report(op, "read")
		return nil, failure.Upstream(opLabel(op)+" response could not be read", err)
	}
	return raw, nil
}

func (c *SarvamClient) report(op, code string) {
	if c.observer != nil {
		c.observer.ObserveProviderError("sarvam_"+op, code)
	}
}

func opLabel(op string) string {
	return strings.ToUpper(op)
}
