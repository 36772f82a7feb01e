package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/voicechat/internal/failure"
)

// MsgConversionFailed is the message surfaced to callers for unusable audio.
const MsgConversionFailed = "Failed to convert audio to WAV format"

// Transcoder converts arbitrary audio into canonical WAV bytes.
type Transcoder interface {
	Transcode(ctx context.Context, input []byte) ([]byte, error)
}

// FFmpeg shells out to an ffmpeg binary. Each call stages its input and output
// in a private temporary directory that is removed before returning.
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

func NewFFmpeg(path string, timeout time.Duration) *FFmpeg {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, Timeout: timeout}
}

func (f *FFmpeg) Transcode(ctx context.Context, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, errors.New("empty input")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	tmpDir, err := os.MkdirTemp("", "voicechat-transcode-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "input")
	outPath := filepath.Join(tmpDir, "output.wav")
	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, err
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inPath,
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-ac", strconv.Itoa(CanonicalChannels),
		outPath,
	}
	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("ffmpeg timed out after %s", f.Timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg failed: %s", detail)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg produced no output")
	}
	return out, nil
}

// Normalizer guarantees that audio handed to the speech services is canonical.
type Normalizer struct {
	transcoder Transcoder
	logger     *slog.Logger
	observer   ResultObserver
}

// ResultObserver is told how each normalization ended: "passthrough",
// "transcoded" or "failed".
type ResultObserver interface {
	ObserveTranscode(result string)
}

func NewNormalizer(transcoder Transcoder, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{transcoder: transcoder, logger: logger}
}

// WithObserver attaches o and returns n.
func (n *Normalizer) WithObserver(o ResultObserver) *Normalizer {
	n.observer = o
	return n
}

func (n *Normalizer) observe(result string) {
	if n.observer != nil {
		n.observer.ObserveTranscode(result)
	}
}

// Normalize returns raw unchanged when it is already canonical WAV, otherwise
// the transcoded bytes. Unusable input yields an input Failure.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, failure.Input("No audio file provided")
	}

	format, err := ParseWAV(raw)
	if err == nil && format.Canonical() {
		n.observe("passthrough")
		return raw, nil
	}
	if err != nil {
		n.logger.Debug("upload is not a wav container, transcoding", slog.String("reason", err.Error()))
	} else {
		n.logger.Debug("upload is not canonical wav, transcoding", slog.String("format", format.String()))
	}

	if n.transcoder == nil {
		n.observe("failed")
		return nil, failure.Input(MsgConversionFailed)
	}
	out, err := n.transcoder.Transcode(ctx, raw)
	if err != nil {
		n.logger.Warn("audio conversion failed", slog.String("error", err.Error()))
		n.observe("failed")
		f := failure.Input(MsgConversionFailed)
		f.Err = err
		return nil, f
	}

	converted, err := ParseWAV(out)
	if err != nil || !converted.Canonical() {
		n.logger.Warn("transcoder output is not canonical",
			slog.Int("bytes", len(out)),
			slog.String("format", converted.String()),
		)
		n.observe("failed")
		return nil, failure.Input(MsgConversionFailed)
	}
	n.observe("transcoded")
	return out, nil
}
