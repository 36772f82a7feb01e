package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/voicechat/internal/app"
	"github.com/antoniostano/voicechat/internal/audio"
	"github.com/antoniostano/voicechat/internal/config"
)

func startServer(t *testing.T) string {
	t.Helper()
	built, err := app.Build(context.Background(), config.Config{
		MetricsNamespace:   "test_voicectl",
		VoiceProvider:      "mock",
		CompletionProvider: "mock",
		DefaultLanguage:    "en-IN",
		ChatHistoryLimit:   10,
		MaxUploadBytes:     1 << 20,
	}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(built.API.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = built.Cleanup()
	})
	return ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeClip(t *testing.T) string {
	t.Helper()
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 3200), audio.CanonicalSampleRate)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, wav, 0o644))
	return path
}

func TestTurnWritesReplyAudio(t *testing.T) {
	url := startServer(t)
	clip := writeClip(t)
	reply := filepath.Join(t.TempDir(), "reply.wav")

	out, err := run(t, "--server", url, "turn", clip, "-o", reply, "--repeat", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "reply:     I heard you: simulated voice input")
	assert.Contains(t, out, "turns=2")

	raw, err := os.ReadFile(reply)
	require.NoError(t, err)
	f, err := audio.ParseWAV(raw)
	require.NoError(t, err)
	assert.True(t, f.Canonical())
}

func TestChatsCommands(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--server", url, "chats", "new")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	_, err = run(t, "--server", url, "message", id, "hello from the cli")
	require.NoError(t, err)
	_, err = run(t, "--server", url, "message", "--role", "assistant", id, "hi back")
	require.NoError(t, err)

	out, err = run(t, "--server", url, "chats", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "user: hello from the cli")
	assert.Contains(t, out, "assistant: hi back")

	out, err = run(t, "--server", url, "chats", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	_, err = run(t, "--server", url, "chats", "delete", id)
	require.NoError(t, err)

	_, err = run(t, "--server", url, "chats", "delete", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Chat not found")
}

func TestMessageRejectsUnknownRole(t *testing.T) {
	_, err := run(t, "--server", "http://127.0.0.1:1", "message", "--role", "system", "id", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role must be")
}

func TestPercentiles(t *testing.T) {
	p50, p95 := percentiles([]time.Duration{5, 1, 3, 2, 4})
	assert.Equal(t, time.Duration(3), p50)
	assert.Equal(t, time.Duration(5), p95)

	p50, p95 = percentiles(nil)
	assert.Zero(t, p50)
	assert.Zero(t, p95)
}
