package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-coach/pkg/coach"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	mode     coach.Mode
	paused   bool
	executed []Command
	voice    []coach.VoiceInfo
	apply    bool
}

func (d *fakeDispatcher) Execute(cmd coach.Command) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executed = append(d.executed, cmd)
	return d.apply
}

func (d *fakeDispatcher) VoiceContext() (coach.Mode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode, d.paused
}

func (d *fakeDispatcher) SetVoice(v coach.VoiceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voice = append(d.voice, v)
}

func (d *fakeDispatcher) lastVoice() coach.VoiceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.voice) == 0 {
		return coach.VoiceInfo{}
	}
	return d.voice[len(d.voice)-1]
}

func (d *fakeDispatcher) commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.executed...)
}

type fakeTransport struct {
	*lifecycle
	kind     Kind
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func newFakeTransport(kind Kind, startErr error) *fakeTransport {
	return &fakeTransport{lifecycle: newLifecycle(), kind: kind, startErr: startErr}
}

func (f *fakeTransport) Kind() Kind { return f.kind }

func (f *fakeTransport) Start(ctx context.Context) error {
	f.starts.Add(1)
	if f.startErr != nil {
		return f.startErr
	}
	return f.begin(ctx, func(ctx context.Context) { <-ctx.Done() })
}

func (f *fakeTransport) Stop() error {
	f.stops.Add(1)
	return f.lifecycle.Stop()
}

type fakeVoiceRecorder struct {
	mu       sync.Mutex
	switches []Kind
	commands []Command
}

func (r *fakeVoiceRecorder) Command(_ Kind, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *fakeVoiceRecorder) Switched(to Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switches = append(r.switches, to)
}

func waitActive(t *testing.T, c *Controller, want Kind) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State().Active == want }, 2*time.Second, 5*time.Millisecond,
		"active transport never became %s", want)
}

func TestController_CascadeNeverReturns(t *testing.T) {
	live := newFakeTransport(KindLive, nil)
	fallback := newFakeTransport(KindFallback, nil)
	clip := newFakeTransport(KindAudioREST, nil)
	d := &fakeDispatcher{}
	rec := &fakeVoiceRecorder{}
	c := NewController(d, []Transport{live, fallback, clip}, WithVoiceRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	waitActive(t, c, KindLive)
	assert.Equal(t, int32(0), fallback.starts.Load())

	live.finish(ErrExhausted)
	waitActive(t, c, KindFallback)
	assert.Equal(t, int32(1), fallback.starts.Load())
	assert.Equal(t, int32(1), live.stops.Load())

	fallback.finish(ErrExhausted)
	waitActive(t, c, KindAudioREST)

	cancel()
	require.NoError(t, <-errc)

	assert.Equal(t, int32(1), live.starts.Load(), "live must never be reattempted")
	assert.Equal(t, int32(1), fallback.starts.Load(), "fallback must activate exactly once")
	assert.Equal(t, KindNone, c.State().Active)
	assert.Equal(t, string(KindNone), d.lastVoice().Transport)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []Kind{KindLive, KindFallback, KindAudioREST, KindNone}, rec.switches)
}

func TestController_SkipsUnavailableAndEndsMuted(t *testing.T) {
	live := newFakeTransport(KindLive, ErrUnavailable)
	fallback := newFakeTransport(KindFallback, ErrUnavailable)
	clip := newFakeTransport(KindAudioREST, nil)
	d := &fakeDispatcher{}
	c := NewController(d, []Transport{live, fallback, clip})

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	waitActive(t, c, KindAudioREST)
	clip.finish(ErrExhausted)

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrNoTransport)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the last transport was exhausted")
	}
	assert.Equal(t, KindNone, c.State().Active)
	assert.Equal(t, string(KindNone), d.lastVoice().Transport)
}

func TestController_DispatchesCommands(t *testing.T) {
	live := newFakeTransport(KindLive, nil)
	d := &fakeDispatcher{apply: true}
	rec := &fakeVoiceRecorder{}
	var acks atomic.Int32
	c := NewController(d, []Transport{live}, WithVoiceRecorder(rec), WithAcknowledge(func() { acks.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	waitActive(t, c, KindLive)

	live.emit(coach.CommandNone)
	live.emit(coach.CommandSkip)

	assert.Equal(t, []Command{coach.CommandSkip}, d.commands())
	assert.Equal(t, coach.VoiceInfo{Transport: "live", LastCommand: "skip"}, d.lastVoice())
	assert.Equal(t, int32(1), acks.Load())

	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, coach.VoiceInfo{Transport: "none", LastCommand: "skip"}, d.lastVoice())
}

func TestController_DropsCommandsFromInactiveTransport(t *testing.T) {
	live := newFakeTransport(KindLive, nil)
	fallback := newFakeTransport(KindFallback, nil)
	d := &fakeDispatcher{apply: true}
	c := NewController(d, []Transport{live, fallback})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	waitActive(t, c, KindLive)
	live.finish(ErrExhausted)
	waitActive(t, c, KindFallback)

	live.emit(coach.CommandDone)
	assert.Empty(t, d.commands())

	cancel()
	require.NoError(t, <-errc)
}
