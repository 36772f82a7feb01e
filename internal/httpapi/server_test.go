package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/voicechat/internal/audio"
	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/config"
	"github.com/antoniostano/voicechat/internal/failure"
	"github.com/antoniostano/voicechat/internal/observability"
	"github.com/antoniostano/voicechat/internal/speech"
	"github.com/antoniostano/voicechat/internal/voice"
)

type failingTranscoder struct{}

func (failingTranscoder) Transcode(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("Invalid data found when processing input")
}

type scriptedSpeech struct {
	transcript speech.Transcript
}

func (s scriptedSpeech) SpeechToText(context.Context, []byte) (speech.Transcript, error) {
	if s.transcript.Text == "" {
		return speech.Transcript{}, nil
	}
	return s.transcript, nil
}

func (s scriptedSpeech) TextToSpeech(context.Context, string, string) (string, error) {
	return "UklGRnJlcGx5", nil
}

type countingCompleter struct{ calls int }

func (c *countingCompleter) Complete(_ context.Context, _ []chat.Message, prompt string) (string, error) {
	c.calls++
	return "You said " + prompt, nil
}

type testEnv struct {
	ts        *httptest.Server
	store     chat.Store
	completer *countingCompleter
}

func newTestEnv(t *testing.T, transcript string) *testEnv {
	t.Helper()
	cfg := config.Config{
		MaxUploadBytes:   1 << 20,
		MetricsNamespace: "test_httpapi",
	}
	store := chat.NewInMemoryStore()
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	completer := &countingCompleter{}
	normalizer := audio.NewNormalizer(failingTranscoder{}, nil).WithObserver(metrics)
	orch := voice.NewOrchestrator(
		normalizer,
		scriptedSpeech{transcript: speech.Transcript{Text: transcript, LanguageCode: "en-IN"}},
		completer,
		store,
		metrics,
		nil,
		voice.Config{DefaultLanguage: "en-IN", HistoryLimit: 10},
	)
	srv := New(cfg, orch, store, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, completer: completer}
}

func canonicalWAV(t *testing.T) []byte {
	t.Helper()
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 640), audio.CanonicalSampleRate)
	require.NoError(t, err)
	return wav
}

func postVoice(t *testing.T, url string, file []byte, chatID string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "clip.wav")
		require.NoError(t, err)
		_, _ = fw.Write(file)
	}
	if chatID != "" {
		_ = mw.WriteField("chat_id", chatID)
	}
	_ = mw.Close()

	res, err := http.Post(url+"/process-voice", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
}

func TestProcessVoiceNewChat(t *testing.T) {
	env := newTestEnv(t, "what is the weather")

	res := postVoice(t, env.ts.URL, canonicalWAV(t), "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got voice.TurnResult
	decodeBody(t, res, &got)
	assert.NotEmpty(t, got.ChatID)
	assert.Equal(t, "what is the weather", got.UserText)
	assert.Equal(t, "You said what is the weather", got.ResponseText)
	assert.NotEmpty(t, got.ResponseAudio)
	assert.Equal(t, "en-IN", got.LanguageCode)

	chatRes, err := http.Get(env.ts.URL + "/chats/" + got.ChatID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, chatRes.StatusCode)
	var sess chat.Session
	decodeBody(t, chatRes, &sess)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, chat.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, chat.RoleAssistant, sess.Messages[1].Role)
}

func TestProcessVoiceNonAudioIsBadRequest(t *testing.T) {
	env := newTestEnv(t, "hello")

	res := postVoice(t, env.ts.URL, []byte("this is not audio"), "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, audio.MsgConversionFailed, body["error"])
	assert.Equal(t, "input_error", body["kind"])

	list, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProcessVoiceEmptyTranscript(t *testing.T) {
	env := newTestEnv(t, "")

	res := postVoice(t, env.ts.URL, canonicalWAV(t), "")
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, speech.MsgNoTranscript, body["error"])
	assert.Equal(t, "transcribe", body["stage"])
	assert.Equal(t, 0, env.completer.calls)
}

func TestProcessVoiceMissingFile(t *testing.T) {
	env := newTestEnv(t, "hello")

	res := postVoice(t, env.ts.URL, nil, "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, msgNoAudio, body["error"])
}

func TestProcessVoiceTooLarge(t *testing.T) {
	env := newTestEnv(t, "hello")

	res := postVoice(t, env.ts.URL, make([]byte, 2<<20), "")
	_ = res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestProcessVoiceUnknownChat(t *testing.T) {
	env := newTestEnv(t, "hello")

	res := postVoice(t, env.ts.URL, canonicalWAV(t), "nope")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, voice.MsgChatNotFound, body["error"])
	assert.Equal(t, 0, env.completer.calls)
}

func TestProcessVoiceContinuesExistingChat(t *testing.T) {
	env := newTestEnv(t, "again")
	id, err := env.store.Create(context.Background())
	require.NoError(t, err)

	res := postVoice(t, env.ts.URL, canonicalWAV(t), id)
	var got voice.TurnResult
	decodeBody(t, res, &got)
	assert.Equal(t, id, got.ChatID)
}

func TestChatLifecycle(t *testing.T) {
	env := newTestEnv(t, "hello")
	base := env.ts.URL

	res, err := http.Post(base+"/chats", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var created map[string]string
	decodeBody(t, res, &created)
	id := created["chat_id"]
	require.NotEmpty(t, id)

	for _, body := range []string{
		`{"role":"user","content":"plain question"}`,
		`{"role":"assistant","content":{"text":"rich answer","timestamp":"2026-02-01T10:00:00Z"}}`,
		`{"role":"user","content":{"text":"object without extras"}}`,
	} {
		res, err := http.Post(base+"/chats/"+id+"/messages", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		var out map[string]string
		decodeBody(t, res, &out)
		require.Equal(t, http.StatusOK, res.StatusCode, body)
		assert.Equal(t, "message added", out["status"])
	}

	first := getRaw(t, base+"/chats/"+id)
	second := getRaw(t, base+"/chats/"+id)
	assert.Equal(t, first, second)
	assert.Contains(t, first, `"content":"plain question"`)
	assert.Contains(t, first, `"text":"rich answer"`)
	assert.Contains(t, first, `"content":{"text":"object without extras"}`)

	list := getRaw(t, base+"/chats")
	assert.Contains(t, list, id)
	assert.NotContains(t, list, "messages")

	delRes := deleteChat(t, base+"/chats/"+id)
	var deleted map[string]string
	decodeBody(t, delRes, &deleted)
	assert.Equal(t, http.StatusOK, delRes.StatusCode)
	assert.Equal(t, "deleted", deleted["status"])
}

func TestDeleteUnknownChat(t *testing.T) {
	env := newTestEnv(t, "hello")

	res := deleteChat(t, env.ts.URL+"/chats/never-created")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, voice.MsgChatNotFound, body["error"])
}

func TestGetUnknownChat(t *testing.T) {
	env := newTestEnv(t, "hello")

	res, err := http.Get(env.ts.URL + "/chats/never-created")
	require.NoError(t, err)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, voice.MsgChatNotFound, body["error"])
}

func TestAddMessageValidation(t *testing.T) {
	env := newTestEnv(t, "hello")
	id, err := env.store.Create(context.Background())
	require.NoError(t, err)

	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"missing role", "/chats/" + id + "/messages", `{"content":"x"}`, msgMissingRoleContent},
		{"missing content", "/chats/" + id + "/messages", `{"role":"user"}`, msgMissingRoleContent},
		{"null content", "/chats/" + id + "/messages", `{"role":"user","content":null}`, msgMissingRoleContent},
		{"empty body", "/chats/" + id + "/messages", ``, msgMissingRoleContent},
		{"bad role", "/chats/" + id + "/messages", `{"role":"system","content":"x"}`, msgInvalidRole},
		{"unknown chat", "/chats/unknown/messages", `{"role":"user","content":"x"}`, msgAddMessageFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Post(env.ts.URL+tc.path, "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
			var body map[string]any
			decodeBody(t, res, &body)
			assert.Equal(t, tc.want, body["error"])
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, "hello")
	_ = postVoice(t, env.ts.URL, canonicalWAV(t), "").Body.Close()

	assert.Contains(t, getRaw(t, env.ts.URL+"/"), "Backend is running")
	assert.Contains(t, getRaw(t, env.ts.URL+"/readyz"), `"ready"`)
	assert.Contains(t, getRaw(t, env.ts.URL+"/healthz"), `"store_mode":"memory"`)

	metrics := getRaw(t, env.ts.URL+"/metrics")
	assert.Contains(t, metrics, "test_httpapi_turns_total")
	assert.Contains(t, metrics, `result="passthrough"`)

	var snap observability.LatencySnapshot
	res, err := http.Get(env.ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	decodeBody(t, res, &snap)
	require.NotEmpty(t, snap.Stages)
	assert.Equal(t, "normalize", snap.Stages[0].Stage)
	assert.Equal(t, 1, snap.Turns.OK)

	res, err = http.Get(env.ts.URL + "/v1/perf/latency?reset=true")
	require.NoError(t, err)
	decodeBody(t, res, &snap)
	assert.Empty(t, snap.Stages)
}

func TestUnmatchedRoutesShareOneMetricLabel(t *testing.T) {
	env := newTestEnv(t, "hello")
	for _, path := range []string{"/no-such-page-0", "/no-such-page-1", "/no-such-page-2", "/chats/x/y/z"} {
		res, err := http.Get(env.ts.URL + path)
		require.NoError(t, err)
		_ = res.Body.Close()
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	}

	metrics := getRaw(t, env.ts.URL+"/metrics")
	assert.Contains(t, metrics, `test_httpapi_http_requests_total{method="GET",route="unmatched",status="404"} 3`)
	assert.NotContains(t, metrics, "no-such-page")
	assert.NotContains(t, metrics, "/chats/x/y/z")
}

func TestMatchedRoutesUsePattern(t *testing.T) {
	env := newTestEnv(t, "hello")
	id, err := env.store.Create(context.Background())
	require.NoError(t, err)
	_ = getRaw(t, env.ts.URL+"/chats/"+id)

	metrics := getRaw(t, env.ts.URL+"/metrics")
	assert.Contains(t, metrics, `route="/chats/{id}"`)
	assert.NotContains(t, metrics, id)
}

type downStore struct{ chat.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func (downStore) List(context.Context) ([]chat.Summary, error) {
	return nil, errors.New("connection refused")
}

func TestStoreOutage(t *testing.T) {
	srv := New(config.Config{MetricsNamespace: "test_outage"}, nil, downStore{Store: chat.NewInMemoryStore()}, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	res, err = http.Get(ts.URL + "/chats")
	require.NoError(t, err)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "storage_error", body["kind"])
}

type panickingOrchestrator struct{}

func (panickingOrchestrator) Run(context.Context, voice.Request) (voice.TurnResult, error) {
	panic("boom")
}

func TestPanicBecomesGenericError(t *testing.T) {
	srv := New(config.Config{MetricsNamespace: "test_panic"}, panickingOrchestrator{}, chat.NewInMemoryStore(), nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postVoice(t, ts.URL, canonicalWAV(t), "")
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, "internal server error", body["error"])
	assert.NotContains(t, body, "detail")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, "hello")
	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/process-voice", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.NotEmpty(t, res.Header.Get("Access-Control-Allow-Origin"))
}

func getRaw(t *testing.T, url string) string {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func deleteChat(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

type leakyOrchestrator struct{}

func (leakyOrchestrator) Run(context.Context, voice.Request) (voice.TurnResult, error) {
	f := failure.Upstream("Completion request failed", nil)
	f.Stage = "complete"
	f.Status = 401
	f.Detail = "Incorrect API key provided: sk-proj-ABCDEFGHIJKLMNOPQRST"
	return voice.TurnResult{}, f
}

func TestUpstreamDetailIsRedacted(t *testing.T) {
	srv := New(config.Config{MetricsNamespace: "test_redact"}, leakyOrchestrator{}, chat.NewInMemoryStore(), nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postVoice(t, ts.URL, canonicalWAV(t), "")
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	var body map[string]any
	decodeBody(t, res, &body)
	detail, _ := body["detail"].(string)
	assert.NotEmpty(t, detail)
	assert.NotContains(t, detail, "ABCDEFGHIJKLMNOPQRST")
	assert.Equal(t, "upstream_service_error", body["kind"])
	assert.Equal(t, "complete", body["stage"])
}
