package voice

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/ratelimit"
)

const clipLimiter = "classify-clip"

// AudioModel is the slice of the model client the clip transport uses.
type AudioModel interface {
	AnalyzeAudio(ctx context.Context, prompt string, audio []byte, mimeType string) (string, error)
}

// ClipConfig configures the fixed-length clip transport.
type ClipConfig struct {
	ClipDuration time.Duration // default 3s
	SampleRate   int           // default 16000
	Gap          time.Duration // default 200ms

	// MinRMS drops clips quieter than this normalized level. Default 0.01.
	MinRMS float64

	Limiter *ratelimit.Limiter
	Now     func() time.Time
	Logger  *zap.Logger
}

// ClipTransport records short clips and asks the model to classify each one.
// It is the last resort and never exhausts while the microphone is open.
type ClipTransport struct {
	*lifecycle

	cfg   ClipConfig
	mic   AudioSource
	model AudioModel

	callWG sync.WaitGroup
}

func NewClipTransport(cfg ClipConfig, mic AudioSource, model AudioModel) *ClipTransport {
	if cfg.ClipDuration <= 0 {
		cfg.ClipDuration = 3 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Gap <= 0 {
		cfg.Gap = 200 * time.Millisecond
	}
	if cfg.MinRMS <= 0 {
		cfg.MinRMS = 0.01
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
	return &ClipTransport{lifecycle: newLifecycle(), cfg: cfg, mic: mic, model: model}
}

func (t *ClipTransport) Kind() Kind { return KindAudioREST }

func (t *ClipTransport) Start(ctx context.Context) error {
	if t.model == nil || t.mic == nil {
		return ErrUnavailable
	}
	return t.begin(ctx, t.loop)
}

func (t *ClipTransport) Stop() error {
	err := t.lifecycle.Stop()
	t.callWG.Wait()
	return err
}

func (t *ClipTransport) clipBytes() int {
	return int(int64(t.cfg.SampleRate) * 2 * int64(t.cfg.ClipDuration) / int64(time.Second))
}

func (t *ClipTransport) loop(ctx context.Context) {
	chunks := t.mic.Chunks()
	need := t.clipBytes()
	buf := make([]byte, 0, need)

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				t.finish(ErrExhausted)
				return
			}
			buf = append(buf, chunk...)
			if len(buf) < need {
				continue
			}
			clip := make([]byte, need)
			copy(clip, buf[:need])
			buf = buf[:0]

			t.submit(ctx, clip)
			if !t.skip(ctx, chunks, t.cfg.Gap) {
				return
			}
		}
	}
}

// skip discards microphone audio for d.
func (t *ClipTransport) skip(ctx context.Context, chunks <-chan []byte, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case _, ok := <-chunks:
			if !ok {
				t.finish(ErrExhausted)
				return false
			}
		}
	}
}

func (t *ClipTransport) submit(ctx context.Context, clip []byte) {
	if _, rms := PCM16Stats(clip); rms < t.cfg.MinRMS {
		t.cfg.Logger.Debug("dropping quiet clip", zap.Float64("rms", rms))
		return
	}

	d := t.cfg.Limiter.Acquire(clipLimiter, t.cfg.Now())
	if !d.Allowed {
		t.cfg.Logger.Debug("clip dropped; classification in flight")
		return
	}

	wav := EncodeWAV(clip, t.cfg.SampleRate, 1)
	t.callWG.Add(1)
	go func() {
		defer t.callWG.Done()
		defer d.Permit.Release()

		reply, err := t.model.AnalyzeAudio(ctx, classifierInstruction, wav, "audio/wav")
		if err != nil {
			if ctx.Err() == nil {
				t.cfg.Logger.Warn("clip classification failed", zap.Error(err))
			}
			return
		}
		t.emit(coach.ParseCommand(reply))
	}()
}
