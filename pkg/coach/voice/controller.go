package voice

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach"
)

// Recorder receives voice metrics.
type Recorder interface {
	Command(kind Kind, cmd Command)
	Switched(to Kind)
}

type nopRecorder struct{}

func (nopRecorder) Command(Kind, Command) {}
func (nopRecorder) Switched(Kind)         {}

// State is the controller's view of the voice subsystem.
type State struct {
	Active       Kind
	ModelIndex   int
	FailureCount int
}

// modelProgress is implemented by transports that walk a model list.
type modelProgress interface {
	ModelIndex() int
	FailureCount() int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithControllerLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithVoiceRecorder(r Recorder) ControllerOption {
	return func(c *Controller) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithAcknowledge sets a hook run after a command changes the session, such
// as an audible chime.
func WithAcknowledge(fn func()) ControllerOption {
	return func(c *Controller) { c.ack = fn }
}

// Controller runs the transport cascade. Transports are tried strictly in
// order, one at a time, and a transport that has been left is never retried.
type Controller struct {
	dispatch   Dispatcher
	transports []Transport
	logger     *zap.Logger
	rec        Recorder
	ack        func()

	mu      sync.Mutex
	active  Transport
	kind    Kind
	lastCmd Command
}

func NewController(d Dispatcher, transports []Transport, opts ...ControllerOption) *Controller {
	c := &Controller{
		dispatch:   d,
		transports: transports,
		logger:     zap.NewNop(),
		rec:        nopRecorder{},
		kind:       KindNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run walks the cascade until ctx is cancelled, which returns nil, or every
// transport is spent, which leaves the state at none and returns
// ErrNoTransport.
func (c *Controller) Run(ctx context.Context) error {
	for _, t := range c.transports {
		if ctx.Err() != nil {
			return nil
		}

		kind := t.Kind()
		t.OnCommand(func(cmd Command) { c.handle(kind, cmd) })
		c.setPending(kind)
		if err := t.Start(ctx); err != nil {
			c.setPending(KindNone)
			c.logger.Info("voice transport unavailable", zap.String("transport", string(kind)), zap.Error(err))
			continue
		}
		c.activate(t, kind)
		c.logger.Info("voice transport active", zap.String("transport", string(kind)))

		select {
		case <-ctx.Done():
			_ = t.Stop()
			c.activate(nil, KindNone)
			return nil
		case err := <-t.Done():
			c.logger.Warn("voice transport exhausted", zap.String("transport", string(kind)), zap.Error(err))
			_ = t.Stop()
		}
	}

	c.activate(nil, KindNone)
	c.logger.Warn("voice commands disabled; no transport left")
	return ErrNoTransport
}

// State reports the active transport and, for the live transport, its model
// walk.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{Active: c.kind}
	if mp, ok := c.active.(modelProgress); ok {
		st.ModelIndex = mp.ModelIndex()
		st.FailureCount = mp.FailureCount()
	}
	return st
}

// setPending lets a starting transport deliver commands before it is
// published as active.
func (c *Controller) setPending(kind Kind) {
	c.mu.Lock()
	c.kind = kind
	c.mu.Unlock()
}

func (c *Controller) activate(t Transport, kind Kind) {
	c.mu.Lock()
	c.active = t
	c.kind = kind
	last := c.lastCmd
	c.mu.Unlock()

	c.rec.Switched(kind)
	c.dispatch.SetVoice(coach.VoiceInfo{Transport: string(kind), LastCommand: string(last)})
}

func (c *Controller) handle(kind Kind, cmd Command) {
	if cmd == coach.CommandNone || cmd == "" {
		return
	}

	c.mu.Lock()
	// Late results from a transport that was already torn down.
	if c.kind != kind {
		c.mu.Unlock()
		c.logger.Debug("dropping command from inactive transport", zap.String("transport", string(kind)), zap.String("command", string(cmd)))
		return
	}
	c.lastCmd = cmd
	c.mu.Unlock()

	applied := c.dispatch.Execute(cmd)
	c.rec.Command(kind, cmd)
	c.dispatch.SetVoice(coach.VoiceInfo{Transport: string(kind), LastCommand: string(cmd)})
	c.logger.Debug("voice command", zap.String("transport", string(kind)), zap.String("command", string(cmd)), zap.Bool("applied", applied))
	if applied && c.ack != nil {
		c.ack()
	}
}
