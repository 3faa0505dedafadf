package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vango-go/vai-coach/pkg/coach"
)

// Kind names a transport.
type Kind string

const (
	KindNone      Kind = "none"
	KindLive      Kind = "live"
	KindFallback  Kind = "fallback"
	KindAudioREST Kind = "audio-rest"
)

var (
	// ErrUnavailable is returned by Start when a transport lacks what it needs.
	ErrUnavailable = errors.New("voice: transport unavailable")

	// ErrExhausted is delivered on Done when a transport gives up.
	ErrExhausted = errors.New("voice: transport exhausted")

	// ErrNoTransport is returned by Controller.Run once every transport is spent.
	ErrNoTransport = errors.New("voice: no transport available")
)

// Transport recognizes commands from one audio path.
type Transport interface {
	Kind() Kind

	// OnCommand registers the callback for recognized commands. It must be
	// called before Start.
	OnCommand(fn func(Command))

	// Start begins listening. It fails fast when the transport cannot run.
	Start(ctx context.Context) error

	// Done yields once when the transport is exhausted.
	Done() <-chan error

	// Stop tears the transport down and waits for its goroutines.
	Stop() error
}

// Dispatcher is the command sink. *coach.Coach implements it.
type Dispatcher interface {
	Execute(cmd coach.Command) bool
	VoiceContext() (coach.Mode, bool)
	SetVoice(v coach.VoiceInfo)
}

// AudioSource delivers 16 kHz mono PCM16LE chunks. The channel is shared by
// all transports; only the active one reads it.
type AudioSource interface {
	Chunks() <-chan []byte
}

// lifecycle is the start/stop/done plumbing every transport shares.
type lifecycle struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	done     chan error
	doneOnce sync.Once

	onCmd func(Command)
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan error, 1)}
}

func (l *lifecycle) OnCommand(fn func(Command)) { l.onCmd = fn }

func (l *lifecycle) Done() <-chan error { return l.done }

// begin derives the transport context and runs loop in a tracked goroutine.
func (l *lifecycle) begin(ctx context.Context, loop func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("voice: transport already started")
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		loop(ctx)
	}()
	return nil
}

func (l *lifecycle) finish(err error) {
	l.doneOnce.Do(func() { l.done <- err })
}

func (l *lifecycle) emit(cmd Command) {
	if cmd == coach.CommandNone || cmd == "" || l.onCmd == nil {
		return
	}
	l.onCmd(cmd)
}

func (l *lifecycle) Stop() error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
