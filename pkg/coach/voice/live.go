package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach"
)

const DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultLiveModels is the live model walk, best first.
var DefaultLiveModels = []string{
	"models/gemini-2.5-flash-native-audio-preview-12-2025",
	"models/gemini-2.0-flash-live-001",
}

const (
	liveAudioMIME         = "audio/pcm;rate=16000"
	liveHandshakeTimeout  = 10 * time.Second
	liveCloseWriteTimeout = 2 * time.Second

	// A failure count at or under this may still advance to the next model.
	liveAdvanceFailures = 2
)

// LiveConfig configures the bidirectional streaming transport.
type LiveConfig struct {
	URL            string
	APIKey         string
	Models         []string
	NextModelDelay time.Duration // default 500ms
	RetryDelay     time.Duration // default 2s
	MaxFailures    int           // default 4
	Logger         *zap.Logger
}

// LiveTransport streams microphone PCM over a Gemini Live websocket and reads
// single-word classifications back.
type LiveTransport struct {
	*lifecycle

	cfg LiveConfig
	mic AudioSource

	stateMu    sync.Mutex
	modelIndex int
	failures   int
}

func NewLiveTransport(cfg LiveConfig, mic AudioSource) *LiveTransport {
	if cfg.URL == "" {
		cfg.URL = DefaultLiveURL
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultLiveModels
	}
	if cfg.NextModelDelay <= 0 {
		cfg.NextModelDelay = 500 * time.Millisecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &LiveTransport{lifecycle: newLifecycle(), cfg: cfg, mic: mic}
}

func (t *LiveTransport) Kind() Kind { return KindLive }

func (t *LiveTransport) Start(ctx context.Context) error {
	if t.cfg.APIKey == "" || t.mic == nil {
		return ErrUnavailable
	}
	return t.begin(ctx, t.loop)
}

func (t *LiveTransport) ModelIndex() int {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.modelIndex
}

func (t *LiveTransport) FailureCount() int {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.failures
}

func (t *LiveTransport) loop(ctx context.Context) {
	for {
		t.stateMu.Lock()
		model := t.cfg.Models[t.modelIndex]
		t.stateMu.Unlock()

		err := t.session(ctx, model)
		if ctx.Err() != nil {
			return
		}

		delay, exhausted := t.recordFailure()
		t.cfg.Logger.Warn("live session closed",
			zap.String("model", model),
			zap.Int("failures", t.FailureCount()),
			zap.Error(err),
		)
		if exhausted {
			t.finish(fmt.Errorf("%w: live after %d failures", ErrExhausted, t.cfg.MaxFailures))
			return
		}
		if sleepCtx(ctx, delay) != nil {
			return
		}
	}
}

// recordFailure counts one closed session and picks the next attempt: the
// next model soon while failures are few, otherwise the same model after a
// longer wait, until MaxFailures.
func (t *LiveTransport) recordFailure() (time.Duration, bool) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.failures++
	switch {
	case t.failures <= liveAdvanceFailures && t.modelIndex+1 < len(t.cfg.Models):
		t.modelIndex++
		return t.cfg.NextModelDelay, false
	case t.failures >= t.cfg.MaxFailures:
		return 0, true
	default:
		return t.cfg.RetryDelay, false
	}
}

type liveSetup struct {
	Setup liveSetupBody `json:"setup"`
}

type liveSetupBody struct {
	Model             string        `json:"model"`
	GenerationConfig  liveGenConfig `json:"generationConfig"`
	SystemInstruction liveContent   `json:"systemInstruction"`
	InputTranscript   *struct{}     `json:"inputAudioTranscription,omitempty"`
}

type liveGenConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type liveContent struct {
	Parts []livePart `json:"parts"`
}

type livePart struct {
	Text string `json:"text,omitempty"`
}

type liveRealtimeInput struct {
	RealtimeInput struct {
		MediaChunks []liveBlob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type liveBlob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type liveServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn          *liveContent `json:"modelTurn,omitempty"`
		InputTranscription *livePart    `json:"inputTranscription,omitempty"`
	} `json:"serverContent,omitempty"`
}

func (t *LiveTransport) sessionURL() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse live URL: %w", err)
	}
	q := u.Query()
	q.Set("key", t.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one websocket connection to completion.
func (t *LiveTransport) session(ctx context.Context, model string) error {
	u, err := t.sessionURL()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: liveHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("live connect: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("live connect: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(liveCloseWriteTimeout))
		_ = conn.Close()
	}()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	setup := liveSetup{Setup: liveSetupBody{
		Model:             model,
		GenerationConfig:  liveGenConfig{ResponseModalities: []string{"TEXT"}},
		SystemInstruction: liveContent{Parts: []livePart{{Text: classifierInstruction}}},
		InputTranscript:   &struct{}{},
	}}
	if err := writeJSON(setup); err != nil {
		return fmt.Errorf("live setup: %w", err)
	}

	streaming := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if sessCtx.Err() != nil {
				return sessCtx.Err()
			}
			return fmt.Errorf("live read: %w", err)
		}

		var msg liveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.cfg.Logger.Debug("ignoring malformed live message", zap.Error(err))
			continue
		}

		if msg.SetupComplete != nil && !streaming {
			streaming = true
			t.stateMu.Lock()
			t.failures = 0
			t.stateMu.Unlock()
			t.cfg.Logger.Info("live session ready", zap.String("model", model))

			wg.Add(1)
			go func() {
				defer wg.Done()
				t.stream(sessCtx, writeJSON)
			}()
		}

		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			t.cfg.Logger.Debug("live heard", zap.String("text", sc.InputTranscription.Text))
		}
		if sc.ModelTurn != nil {
			var reply strings.Builder
			for _, p := range sc.ModelTurn.Parts {
				reply.WriteString(p.Text)
			}
			t.emit(coach.ParseCommand(reply.String()))
		}
	}
}

// stream forwards microphone chunks until the session ends.
func (t *LiveTransport) stream(ctx context.Context, writeJSON func(any) error) {
	chunks := t.mic.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			var in liveRealtimeInput
			in.RealtimeInput.MediaChunks = []liveBlob{{MIMEType: liveAudioMIME, Data: chunk}}
			if err := writeJSON(in); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					t.cfg.Logger.Debug("live audio write failed", zap.Error(err))
				}
				return
			}
		}
	}
}
