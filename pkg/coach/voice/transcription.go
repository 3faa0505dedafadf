package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/voice/stt"
	"github.com/vango-go/vai-coach/pkg/ratelimit"
)

const (
	minFinalChars   = 2
	classifyTokens  = 10
	classifyLimiter = "classify-transcript"
)

// TextModel is the slice of the model client the transcript classifier uses.
type TextModel interface {
	GenerateText(ctx context.Context, systemPrompt, userMessage string, opts core.GenerateOptions) (string, error)
}

// TranscriptionConfig configures the speech-to-text transport.
type TranscriptionConfig struct {
	Options         stt.TranscribeOptions
	RestartDelay    time.Duration // default 1s
	MaxDialFailures int           // default 3

	// Limiter guards classification calls. The default is single-flight.
	Limiter *ratelimit.Limiter
	Now     func() time.Time
	Logger  *zap.Logger
}

// TranscriptionTransport streams microphone audio to a speech-to-text
// provider, keyword-matches short finals and classifies longer ones with a
// text model restricted to the currently legal actions.
type TranscriptionTransport struct {
	*lifecycle

	cfg      TranscriptionConfig
	provider stt.Provider
	mic      AudioSource
	model    TextModel
	voiceCtx func() (coach.Mode, bool)

	classifyWG sync.WaitGroup
}

// NewTranscriptionTransport builds the transport. A nil provider makes Start
// fail, which is how a missing speech-to-text key is expressed.
func NewTranscriptionTransport(cfg TranscriptionConfig, provider stt.Provider, mic AudioSource, model TextModel, voiceCtx func() (coach.Mode, bool)) *TranscriptionTransport {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.MaxDialFailures <= 0 {
		cfg.MaxDialFailures = 3
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.Config{MaxConcurrent: 1})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &TranscriptionTransport{
		lifecycle: newLifecycle(),
		cfg:       cfg,
		provider:  provider,
		mic:       mic,
		model:     model,
		voiceCtx:  voiceCtx,
	}
}

func (t *TranscriptionTransport) Kind() Kind { return KindFallback }

func (t *TranscriptionTransport) Start(ctx context.Context) error {
	if t.provider == nil || t.mic == nil {
		return ErrUnavailable
	}
	return t.begin(ctx, t.loop)
}

// Stop also waits for in-flight classification calls.
func (t *TranscriptionTransport) Stop() error {
	err := t.lifecycle.Stop()
	t.classifyWG.Wait()
	return err
}

func (t *TranscriptionTransport) loop(ctx context.Context) {
	failures := 0
	for {
		sess, err := t.provider.NewStreamingSTT(ctx, t.cfg.Options)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			t.cfg.Logger.Warn("stt dial failed", zap.String("provider", t.provider.Name()), zap.Int("failures", failures), zap.Error(err))
			if failures >= t.cfg.MaxDialFailures {
				t.finish(fmt.Errorf("%w: %s after %d dial failures", ErrExhausted, t.provider.Name(), failures))
				return
			}
		} else {
			failures = 0
			t.pump(ctx, sess)
			if err := sess.Err(); err != nil {
				t.cfg.Logger.Warn("stt session ended", zap.Error(err))
			}
			_ = sess.Close()
		}

		if sleepCtx(ctx, t.cfg.RestartDelay) != nil {
			return
		}
	}
}

// pump feeds the microphone into sess and handles transcripts until the
// session ends.
func (t *TranscriptionTransport) pump(ctx context.Context, sess *stt.StreamingSTT) {
	feedCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunks := t.mic.Chunks()
		for {
			select {
			case <-feedCtx.Done():
				return
			case <-sess.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				if err := sess.SendAudio(chunk); err != nil {
					return
				}
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for delta := range sess.Transcripts() {
		if delta.IsFinal {
			t.handleFinal(ctx, delta.Text)
		}
	}
}

func (t *TranscriptionTransport) handleFinal(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if len(text) < minFinalChars {
		return
	}
	t.cfg.Logger.Debug("stt final", zap.String("text", text))

	if cmd, ok := QuickMatch(text); ok {
		t.emit(cmd)
		return
	}
	// Short unmatched speech is chatter, not a command.
	if wordCount(text) <= quickMatchMaxWords {
		return
	}
	t.classify(ctx, text)
}

// classify runs one text classification call in the background. A call
// already in flight or an exhausted limiter drops the utterance.
func (t *TranscriptionTransport) classify(ctx context.Context, text string) {
	if t.model == nil || t.voiceCtx == nil {
		return
	}
	legal := LegalActions(t.voiceCtx())
	if len(legal) == 0 {
		return
	}

	d := t.cfg.Limiter.Acquire(classifyLimiter, t.cfg.Now())
	if !d.Allowed {
		t.cfg.Logger.Debug("classification dropped", zap.Duration("retry_after", d.RetryAfter))
		return
	}

	t.classifyWG.Add(1)
	go func() {
		defer t.classifyWG.Done()
		defer d.Permit.Release()

		reply, err := t.model.GenerateText(ctx, classifyPrompt(legal), classifyUserMessage(text), core.GenerateOptions{
			Temperature: core.Temperature(0),
			MaxTokens:   classifyTokens,
			MIMEType:    "text/plain",
		})
		if err != nil {
			if ctx.Err() == nil {
				t.cfg.Logger.Warn("transcript classification failed", zap.Error(err))
			}
			return
		}
		if cmd := coach.ParseCommand(reply); contains(legal, cmd) {
			t.emit(cmd)
		}
	}()
}
