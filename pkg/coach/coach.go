// Package coach runs the vision coaching loop: it samples camera frames, asks a
// multimodal model to identify the object or judge progress, and advances a
// checklist. Voice, the terminal UI and the status server all drive the same
// Coach through Execute.
package coach

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach/parse"
	"github.com/vango-go/vai-coach/pkg/coach/sampler"
	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/procedures"
)

const (
	DefaultInterval    = 2500 * time.Millisecond
	DefaultSettleDelay = time.Second
	DefaultMaxBackoff  = 120 * time.Second

	maxBackoffExponent = 16
)

// ErrAlreadyRunning is returned by Run when a loop is already active.
var ErrAlreadyRunning = errors.New("coach: capture loop already running")

// ErrNoUsableSteps is returned by LoadProcedure when nothing can be coached.
var ErrNoUsableSteps = errors.New("coach: procedure has no usable steps")

// FrameCapturer produces encoded frames. *sampler.Sampler implements it.
type FrameCapturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Recorder receives loop counters.
type Recorder interface {
	FrameSkipped(reason string)
	Backoff(d time.Duration)
	StepsCompleted(n int, source string)
}

type nopRecorder struct{}

func (nopRecorder) FrameSkipped(string) {}
func (nopRecorder) Backoff(time.Duration) {}
func (nopRecorder) StepsCompleted(int, string) {}

// Option configures a Coach.
type Option func(*Coach)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coach) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides time.Now for backoff arithmetic.
func WithClock(now func() time.Time) Option {
	return func(c *Coach) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInterval sets the capture interval, which is also the backoff base.
func WithInterval(d time.Duration) Option {
	return func(c *Coach) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithSettleDelay sets the wait before the first cycle.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coach) {
		if d >= 0 {
			c.settle = d
		}
	}
}

// WithMaxBackoff caps the exponential part of rate-limit backoff.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Coach) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// WithConfirmFrames requires n consecutive agreeing progress reports before a
// step is committed. Values below 1 mean 1.
func WithConfirmFrames(n int) Option {
	return func(c *Coach) {
		if n < 1 {
			n = 1
		}
		c.confirmFrames = n
	}
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coach) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithOnComplete registers a callback that receives identify-drafted steps as
// a procedure once they have all been completed. It runs outside the lock.
func WithOnComplete(fn func(procedures.Procedure)) Option {
	return func(c *Coach) {
		c.onComplete = fn
	}
}

// Coach owns one Session and every goroutine-facing entry point into it.
type Coach struct {
	model  core.ModelClient
	frames FrameCapturer
	logger *zap.Logger
	now    func() time.Time

	interval      time.Duration
	settle        time.Duration
	maxBackoff    time.Duration
	confirmFrames int
	recorder      Recorder
	onComplete    func(procedures.Procedure)

	mu           sync.Mutex
	s            Session
	voice        VoiceInfo
	confirmStep  int
	confirmCount int
	handoff      *procedures.Procedure

	notifyMu sync.Mutex
	subs     map[chan Projection]struct{}
}

// New creates a Coach in the ready state.
func New(model core.ModelClient, frames FrameCapturer, opts ...Option) *Coach {
	c := &Coach{
		model:         model,
		frames:        frames,
		logger:        zap.NewNop(),
		now:           time.Now,
		interval:      DefaultInterval,
		settle:        DefaultSettleDelay,
		maxBackoff:    DefaultMaxBackoff,
		confirmFrames: 1,
		recorder:      nopRecorder{},
		s:             NewSession(),
		subs:          make(map[chan Projection]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.s.setStatus("Point your camera at an object, then tap Start.")
	return c
}

// Run drives the capture loop until ctx is cancelled or a fatal model error
// occurs. Cancellation returns nil; a fatal error is returned as *core.Error.
func (c *Coach) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.s.Running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.s.Running = true
	c.unlock()

	defer func() {
		c.mu.Lock()
		c.s.Running = false
		c.unlock()
	}()

	c.logger.Info("capture loop started", zap.Duration("interval", c.interval))
	if err := sleepCtx(ctx, c.settle); err != nil {
		return nil
	}
	for {
		if err := c.Tick(ctx); err != nil {
			c.logger.Error("capture loop stopped", zap.Error(err))
			return err
		}
		if err := sleepCtx(ctx, c.interval); err != nil {
			c.logger.Info("capture loop stopped")
			return nil
		}
	}
}

// Tick runs one capture cycle. Paused, ready and complete sessions do nothing.
// It returns an error only when the failure is fatal.
func (c *Coach) Tick(ctx context.Context) error {
	c.mu.Lock()
	paused, mode, gen := c.s.Paused, c.s.Mode, c.s.generation
	c.mu.Unlock()
	if paused {
		return nil
	}

	switch mode {
	case ModeIdentifying:
		err := c.identify(ctx, gen)
		c.mu.Lock()
		if c.s.Mode == ModeIdentifying && c.s.generation == gen {
			c.s.Mode = ModeReady
		}
		c.unlock()
		return err
	case ModeCoaching:
		return c.checkProgress(ctx, gen)
	}
	return nil
}

// begin claims the single-flight slot and captures a frame. It reports false
// when the cycle should be skipped.
func (c *Coach) begin(ctx context.Context) ([]byte, bool) {
	c.mu.Lock()
	if c.s.Processing {
		c.unlock()
		c.recorder.FrameSkipped("busy")
		return nil, false
	}
	if now := c.now(); now.Before(c.s.BackoffUntil) {
		wait := int(math.Ceil(c.s.BackoffUntil.Sub(now).Seconds()))
		c.s.setStatus(fmt.Sprintf("Rate limited — retrying in %ds.", wait))
		c.unlock()
		c.recorder.FrameSkipped("backoff")
		return nil, false
	}
	c.s.Processing = true
	c.unlock()

	frame, err := c.frames.Capture(ctx)
	if err != nil {
		c.mu.Lock()
		c.s.Processing = false
		c.unlock()
		if errors.Is(err, sampler.ErrBlankFrame) {
			c.logger.Debug("blank frame, skipping")
			c.recorder.FrameSkipped("blank")
		} else {
			c.logger.Warn("frame capture failed", zap.Error(err))
			c.recorder.FrameSkipped("capture")
		}
		return nil, false
	}
	return frame, true
}

func (c *Coach) identify(ctx context.Context, gen uint64) error {
	frame, ok := c.begin(ctx)
	if !ok {
		return nil
	}

	c.mu.Lock()
	c.s.setStatus("Identifying object...")
	c.unlock()

	reply, err := c.model.AnalyzeImage(ctx, identifySystemPrompt, identifyUserMessage, frame, core.GenerateOptions{
		Temperature: core.Temperature(0.3),
		MaxTokens:   500,
	})

	c.mu.Lock()
	defer c.unlock()
	c.s.Processing = false
	if err != nil {
		return c.handleError(ctx, err)
	}
	c.s.ConsecutiveErrors = 0
	if c.s.Mode != ModeIdentifying || c.s.generation != gen {
		c.logger.Debug("dropping stale identify reply")
		return nil
	}

	result, ok := parse.Identify(reply)
	if !ok || len(result.Steps) == 0 {
		c.s.setStatus("Can't identify — move closer or adjust the angle, then tap Start.")
		return nil
	}

	steps := make([]Step, len(result.Steps))
	for i, st := range result.Steps {
		steps[i] = Step{Action: st.Action, LookFor: st.LookFor}
	}
	c.s.replaceSteps(steps, false)
	c.s.BackoffUntil = time.Time{}
	c.s.TargetObject = result.Object
	c.s.Mode = ModeCoaching
	c.s.setStatus(result.Object + " — follow the steps below")
	c.resetConfirm()

	c.logger.Info("object identified",
		zap.String("object", result.Object),
		zap.Int("steps", len(steps)))
	return nil
}

func (c *Coach) checkProgress(ctx context.Context, gen uint64) error {
	frame, ok := c.begin(ctx)
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.s.generation != gen {
		c.s.Processing = false
		c.unlock()
		return nil
	}
	system := progressSystemPrompt(c.s.Steps, c.s.CurrentStep)
	c.mu.Unlock()

	reply, err := c.model.AnalyzeImage(ctx, system, progressUserMessage, frame, core.GenerateOptions{
		Temperature: core.Temperature(0.3),
		MaxTokens:   150,
	})

	c.mu.Lock()
	defer c.unlock()
	c.s.Processing = false
	if err != nil {
		return c.handleError(ctx, err)
	}
	c.s.ConsecutiveErrors = 0
	if c.s.Mode != ModeCoaching || c.s.generation != gen {
		c.logger.Debug("dropping stale progress reply")
		return nil
	}

	res, ok := parse.Progress(reply)
	if !ok {
		c.logger.Debug("unparseable progress reply", zap.String("reply", reply))
		return nil
	}
	c.logger.Debug("progress check",
		zap.Int("completed_step", res.CompletedStep),
		zap.Bool("object_visible", res.ObjectVisible),
		zap.String("observation", res.Observation))

	if !res.ObjectVisible {
		c.s.LostStreak++
		target := c.s.TargetObject
		if target == "" {
			target = "object"
		}
		c.s.setStatus(fmt.Sprintf("Lost %s — bring it back into frame.", target))
		c.resetConfirm()
		return nil
	}
	c.s.LostStreak = 0

	if res.CompletedStep > 0 && res.CompletedStep <= len(c.s.Steps) {
		if c.confirm(res.CompletedStep) {
			c.markCompleted(res.CompletedStep-1, "model")
		}
		return nil
	}

	c.resetConfirm()
	if c.s.HasCurrentStep() {
		c.s.setStatus(fmt.Sprintf("Step %d: %s", c.s.CurrentStep+1, c.s.Steps[c.s.CurrentStep].LookFor))
	}
	return nil
}

// confirm counts consecutive reports of the same step. Caller holds mu.
func (c *Coach) confirm(step int) bool {
	if c.confirmFrames <= 1 {
		return true
	}
	if step == c.confirmStep {
		c.confirmCount++
	} else {
		c.confirmStep = step
		c.confirmCount = 1
	}
	if c.confirmCount >= c.confirmFrames {
		c.resetConfirm()
		return true
	}
	return false
}

func (c *Coach) resetConfirm() {
	c.confirmStep = 0
	c.confirmCount = 0
}

// markCompleted applies Session.MarkCompleted and its side effects. Caller
// holds mu.
func (c *Coach) markCompleted(upTo int, source string) {
	before := c.s.CompletedCount()
	changed, done := c.s.MarkCompleted(upTo)
	if !changed {
		return
	}
	c.recorder.StepsCompleted(c.s.CompletedCount()-before, source)
	if !done {
		return
	}

	c.s.setStatus("All done — nice work!")
	c.logger.Info("all steps complete", zap.String("object", c.s.TargetObject))
	if !c.s.fromProcedure && c.onComplete != nil {
		p := c.draftedProcedure()
		c.handoff = &p
		c.s.fromProcedure = true
	}
}

func (c *Coach) draftedProcedure() procedures.Procedure {
	p := procedures.Procedure{
		Title:      c.s.TargetObject,
		Role:       "operator",
		SourceType: "identify",
		Steps:      make([]procedures.Step, len(c.s.Steps)),
	}
	for i, st := range c.s.Steps {
		p.Steps[i] = procedures.Step{Number: i + 1, Action: st.Action, LookFor: st.LookFor}
	}
	return p
}

// handleError classifies a model failure and updates backoff and status.
// It returns a *core.Error only for fatal failures. Caller holds mu.
func (c *Coach) handleError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	c.s.ConsecutiveErrors++

	switch core.Classify(err) {
	case core.ClassRateLimit:
		delay := c.backoffDelay(core.RetryDelay(err))
		if until := c.now().Add(delay); until.After(c.s.BackoffUntil) {
			c.s.BackoffUntil = until
		}
		c.s.setStatus(fmt.Sprintf("Rate limited — waiting %ds before retrying.", int(math.Ceil(delay.Seconds()))))
		c.recorder.Backoff(delay)
		c.logger.Warn("rate limited",
			zap.Duration("backoff", delay),
			zap.Int("consecutive_errors", c.s.ConsecutiveErrors),
			zap.Error(err))
		return nil

	case core.ClassFatal:
		fatal := asFatal(err)
		if fatal.Type == core.ErrPermission || fatal.Status == 403 {
			c.s.setError("API key not authorized. Enable the Gemini API in Google AI Studio.")
		} else {
			c.s.setError("Invalid API key. Check GEMINI_API_KEY.")
		}
		return fatal

	default:
		c.s.setStatus("Connection issue — retrying...")
		c.logger.Warn("model call failed",
			zap.Int("consecutive_errors", c.s.ConsecutiveErrors),
			zap.Error(err))
		return nil
	}
}

// backoffDelay is max(server, min(maxBackoff, interval*2^errors)).
func (c *Coach) backoffDelay(server time.Duration) time.Duration {
	exp := c.s.ConsecutiveErrors
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	d := c.interval * time.Duration(1<<uint(exp))
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	if server > d {
		d = server
	}
	return d
}

func asFatal(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	if strings.Contains(err.Error(), "403") {
		return core.NewPermissionError(err.Error())
	}
	return core.NewInvalidRequestError(err.Error())
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

// unlock releases mu, publishes the new projection and runs a pending
// completion handoff.
func (c *Coach) unlock() {
	handoff := c.handoff
	c.handoff = nil
	proj := c.projectionLocked()

	c.notifyMu.Lock()
	c.mu.Unlock()
	for ch := range c.subs {
		publish(ch, proj)
	}
	c.notifyMu.Unlock()

	if handoff != nil && c.onComplete != nil {
		c.onComplete(*handoff)
	}
}
