// Package voice runs one voice turn: normalize the upload, transcribe it,
// record the user turn, generate a reply, record it, and synthesize it.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/completion"
	"github.com/antoniostano/voicechat/internal/failure"
	"github.com/antoniostano/voicechat/internal/observability"
	"github.com/antoniostano/voicechat/internal/policy"
	"github.com/antoniostano/voicechat/internal/speech"
)

// Stage names the step a turn reached or failed in.
type Stage string

const (
	StageReceived               Stage = "received"
	StageNormalized             Stage = "normalized"
	StageTranscribed            Stage = "transcribed"
	StageUserTurnPersisted      Stage = "user_turn_persisted"
	StageCompleted              Stage = "completed"
	StageAssistantTurnPersisted Stage = "assistant_turn_persisted"
	StageSynthesized            Stage = "synthesized"
	StageDone                   Stage = "done"
)

// Failure stage tags, also used as latency labels.
const (
	stepNormalize            = "normalize"
	stepResolveSession       = "resolve_session"
	stepTranscribe           = "transcribe"
	stepPersistUserTurn      = "persist_user_turn"
	stepComplete             = "complete"
	stepPersistAssistantTurn = "persist_assistant_turn"
	stepSynthesize           = "synthesize"
	stepTotal                = "turn_total"
)

const (
	MsgChatNotFound  = "Chat not found"
	MsgPersistFailed = "Failed to save message"
)

// PersistPolicy decides what an unapplied message append does to the turn.
type PersistPolicy string

const (
	PersistContinue PersistPolicy = "continue"
	PersistAbort    PersistPolicy = "abort"
)

// Normalizer guarantees canonical WAV bytes.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) ([]byte, error)
}

// Request is one inbound voice turn.
type Request struct {
	Audio  []byte
	ChatID string
}

// TurnResult is the composed reply for a successful turn.
type TurnResult struct {
	ChatID        string `json:"chatId"`
	UserText      string `json:"userText"`
	UserAudio     string `json:"userAudio"`
	ResponseText  string `json:"responseText"`
	ResponseAudio string `json:"responseAudio"`
	LanguageCode  string `json:"languageCode"`
}

type Config struct {
	DefaultLanguage string
	HistoryLimit    int
	PersistPolicy   PersistPolicy
	STTTimeout      time.Duration
	CompleteTimeout time.Duration
	TTSTimeout      time.Duration
	StoreTimeout    time.Duration
}

// Orchestrator owns the collaborators of a voice turn. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	normalizer  Normalizer
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	completer   completion.Completer
	store       chat.Store
	metrics     *observability.Metrics
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

func NewOrchestrator(
	normalizer Normalizer,
	speechProvider speech.Provider,
	completer completion.Completer,
	store chat.Store,
	metrics *observability.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en-IN"
	}
	if cfg.PersistPolicy == "" {
		cfg.PersistPolicy = PersistContinue
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	return &Orchestrator{
		normalizer:  normalizer,
		recognizer:  speechProvider,
		synthesizer: speechProvider,
		completer:   completer,
		store:       store,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// turn carries the state of one request through the stages.
type turn struct {
	stage    Stage
	chatID   string
	raw      []byte
	wav      []byte
	history  []chat.Message
	text     string
	language string
	reply    string
	audio    string
}

// Run executes the turn. Every error it returns is a *failure.Failure tagged
// with the stage that produced it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (TurnResult, error) {
	started := o.now()
	t := &turn{stage: StageReceived, raw: req.Audio}

	// next is empty for steps that do not advance the turn state.
	steps := []struct {
		name string
		next Stage
		fn   func(context.Context, *turn, string) error
	}{
		{stepNormalize, StageNormalized, o.normalize},
		{stepResolveSession, "", o.resolveSession},
		{stepTranscribe, StageTranscribed, o.transcribe},
		{stepPersistUserTurn, StageUserTurnPersisted, o.persistUserTurn},
		{stepComplete, StageCompleted, o.complete},
		{stepPersistAssistantTurn, StageAssistantTurnPersisted, o.persistAssistantTurn},
		{stepSynthesize, StageSynthesized, o.synthesize},
	}
	for _, step := range steps {
		stepStarted := o.now()
		err := step.fn(ctx, t, req.ChatID)
		o.metrics.ObserveStage(step.name, o.now().Sub(stepStarted))
		if err != nil {
			f := failure.As(err).WithStage(step.name)
			o.logger.Error("voice turn failed",
				slog.String("stage", step.name),
				slog.String("reached", string(t.stage)),
				slog.String("kind", string(f.Kind)),
				slog.String("chat_id", t.chatID),
				slog.String("error", policy.Redact(f.Error())),
			)
			o.metrics.ObserveTurn("failed", step.name)
			return TurnResult{}, f
		}
		if step.next != "" {
			t.stage = step.next
		}
	}
	t.stage = StageDone
	total := o.now().Sub(started)
	o.metrics.ObserveStage(stepTotal, total)
	o.metrics.ObserveTurn("ok", "")
	o.logger.Debug("voice turn finished",
		slog.String("chat_id", t.chatID),
		slog.String("reached", string(t.stage)),
		slog.Duration("duration", total),
	)

	return TurnResult{
		ChatID:        t.chatID,
		UserText:      t.text,
		UserAudio:     base64.StdEncoding.EncodeToString(t.raw),
		ResponseText:  t.reply,
		ResponseAudio: t.audio,
		LanguageCode:  t.language,
	}, nil
}

func (o *Orchestrator) normalize(ctx context.Context, t *turn, _ string) error {
	wav, err := o.normalizer.Normalize(ctx, t.raw)
	if err != nil {
		f := failure.As(err)
		if f.Kind == failure.KindInternal {
			// Anything the normalizer could not classify still stems from the upload.
			in := failure.Input(f.Message)
			in.Err = err
			return in
		}
		return f
	}
	t.wav = wav
	return nil
}

// resolveSession uses the caller's chat when given, else creates one. It also
// loads recent history for the completion call; losing history is not fatal.
func (o *Orchestrator) resolveSession(ctx context.Context, t *turn, chatID string) error {
	if chatID == "" {
		sctx, cancel := o.storeContext(ctx)
		defer cancel()
		id, err := o.store.Create(sctx)
		if err != nil {
			return failure.Storage("Failed to create chat", err)
		}
		t.chatID = id
		return nil
	}

	sctx, cancel := o.storeContext(ctx)
	defer cancel()
	sess, err := o.store.Get(sctx, chatID)
	if errors.Is(err, chat.ErrNotFound) {
		return failure.NotFound(MsgChatNotFound)
	}
	if err != nil {
		return failure.Storage("Failed to load chat", err)
	}
	t.chatID = sess.ID
	t.history = recent(sess.Messages, o.cfg.HistoryLimit)
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, t *turn, _ string) error {
	cctx, cancel := withTimeout(ctx, o.cfg.STTTimeout)
	defer cancel()
	tr, err := o.recognizer.SpeechToText(cctx, t.wav)
	if err != nil {
		return upstream(err, "STT request failed")
	}
	if tr.Text == "" {
		return failure.Upstream(speech.MsgNoTranscript, nil)
	}
	t.text = tr.Text
	t.language = tr.LanguageCode
	if t.language == "" {
		t.language = o.cfg.DefaultLanguage
	}
	o.logger.Debug("turn transcribed",
		slog.String("chat_id", t.chatID),
		slog.String("language", t.language),
		slog.String("text", policy.Redact(t.text)),
	)
	return nil
}

func (o *Orchestrator) persistUserTurn(ctx context.Context, t *turn, _ string) error {
	now := o.now().UTC()
	msg := chat.Message{
		Role: chat.RoleUser,
		Content: chat.Content{
			Text:      t.text,
			Audio:     base64.StdEncoding.EncodeToString(t.raw),
			Timestamp: now,
		},
		Timestamp: now,
	}
	return o.persist(ctx, t.chatID, msg)
}

func (o *Orchestrator) complete(ctx context.Context, t *turn, _ string) error {
	cctx, cancel := withTimeout(ctx, o.cfg.CompleteTimeout)
	defer cancel()
	reply, err := o.completer.Complete(cctx, t.history, t.text)
	if err != nil {
		return upstream(err, "Completion request failed")
	}
	t.reply = reply
	return nil
}

func (o *Orchestrator) persistAssistantTurn(ctx context.Context, t *turn, _ string) error {
	now := o.now().UTC()
	msg := chat.Message{
		Role:      chat.RoleAssistant,
		Content:   chat.Content{Text: t.reply, Timestamp: now},
		Timestamp: now,
	}
	return o.persist(ctx, t.chatID, msg)
}

func (o *Orchestrator) synthesize(ctx context.Context, t *turn, _ string) error {
	cctx, cancel := withTimeout(ctx, o.cfg.TTSTimeout)
	defer cancel()
	audio, err := o.synthesizer.TextToSpeech(cctx, t.reply, t.language)
	if err != nil {
		return upstream(err, "TTS request failed")
	}
	t.audio = audio
	return nil
}

// persist appends msg. Under the continue policy an append that errors or
// does not apply is logged and counted but does not stop the turn.
func (o *Orchestrator) persist(ctx context.Context, chatID string, msg chat.Message) error {
	sctx, cancel := o.storeContext(ctx)
	defer cancel()
	ok, err := o.store.Append(sctx, chatID, msg)
	if err == nil && ok {
		return nil
	}

	o.metrics.ObservePersistFailure(string(msg.Role))
	attrs := []any{
		slog.String("event", "persist_failed"),
		slog.String("chat_id", chatID),
		slog.String("role", string(msg.Role)),
		slog.String("policy", string(o.cfg.PersistPolicy)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	o.logger.Warn("message append not applied", attrs...)

	if o.cfg.PersistPolicy == PersistAbort {
		if err == nil {
			err = errors.New("append not applied")
		}
		return failure.Storage(MsgPersistFailed, err)
	}
	return nil
}

func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, o.cfg.StoreTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// upstream keeps classified failures and marks everything else as an
// upstream service error.
func upstream(err error, msg string) error {
	var f *failure.Failure
	if errors.As(err, &f) {
		return f
	}
	return failure.Upstream(msg, err)
}

func recent(msgs []chat.Message, limit int) []chat.Message {
	if limit <= 0 || len(msgs) == 0 {
		return nil
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message(nil), msgs...)
}
