package coach

import (
	"strings"

	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach/parse"
	"github.com/vango-go/vai-coach/pkg/procedures"
)

// Command is a spoken or typed control word.
type Command string

const (
	CommandSkip   Command = "skip"
	CommandDone   Command = "done"
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandReset  Command = "reset"
	CommandNone   Command = "none"
)

// ParseCommand normalizes free text to a Command. Anything outside the
// vocabulary is CommandNone.
func ParseCommand(text string) Command {
	switch cmd := Command(parse.Command(text)); cmd {
	case CommandSkip, CommandDone, CommandStart, CommandPause, CommandResume, CommandReset:
		return cmd
	}
	return CommandNone
}

// Execute applies cmd if it is legal in the current state and reports whether
// anything happened.
func (c *Coach) Execute(cmd Command) bool {
	c.mu.Lock()
	defer c.unlock()

	applied := false
	switch cmd {
	case CommandSkip, CommandDone:
		if c.s.Mode == ModeCoaching && c.s.HasCurrentStep() {
			c.markCompleted(c.s.CurrentStep, "manual")
			applied = true
		}
	case CommandStart:
		if c.s.Mode == ModeReady {
			c.primaryLocked()
			applied = true
		}
	case CommandPause:
		if !c.s.Paused {
			c.s.Paused = true
			applied = true
		}
	case CommandResume:
		if c.s.Paused {
			c.s.Paused = false
			applied = true
		}
	case CommandReset:
		if c.s.Mode == ModeComplete {
			c.primaryLocked()
			applied = true
		}
	}
	if applied {
		c.logger.Info("command applied", zap.String("command", string(cmd)), zap.String("mode", string(c.s.Mode)))
	}
	return applied
}

// Primary is the single main button: start from ready, skip while coaching,
// reset once complete. It does nothing while identifying.
func (c *Coach) Primary() {
	c.mu.Lock()
	defer c.unlock()
	c.primaryLocked()
}

func (c *Coach) primaryLocked() {
	switch c.s.Mode {
	case ModeReady:
		if len(c.s.Steps) > 0 {
			c.s.Mode = ModeCoaching
		} else {
			c.s.Mode = ModeIdentifying
		}
	case ModeIdentifying:
	case ModeComplete:
		c.s.Reset()
		c.resetConfirm()
		c.s.setStatus("Point your camera at a new object, then tap Start.")
	case ModeCoaching:
		if c.s.HasCurrentStep() {
			c.markCompleted(c.s.CurrentStep, "manual")
		}
	}
}

// TogglePause flips the pause flag and returns the new value.
func (c *Coach) TogglePause() bool {
	c.mu.Lock()
	defer c.unlock()
	c.s.Paused = !c.s.Paused
	return c.s.Paused
}

// LoadProcedure seeds the checklist from a stored procedure and returns to
// ready. Steps without an action are dropped; missing cues get the default.
func (c *Coach) LoadProcedure(p procedures.Procedure) error {
	steps := make([]Step, 0, len(p.Steps))
	for _, st := range p.Steps {
		action := strings.TrimSpace(st.Action)
		if action == "" {
			continue
		}
		lookFor := strings.TrimSpace(st.LookFor)
		if lookFor == "" {
			lookFor = parse.DefaultLookFor
		}
		steps = append(steps, Step{Action: action, LookFor: lookFor})
	}

	c.mu.Lock()
	defer c.unlock()
	if len(steps) == 0 {
		c.s.setError("Selected SOP has no usable steps.")
		return ErrNoUsableSteps
	}

	title := strings.TrimSpace(p.Title)
	c.s.replaceSteps(steps, true)
	c.s.TargetObject = title
	c.s.Mode = ModeReady
	c.resetConfirm()
	if title == "" {
		title = "SOP"
	}
	c.s.setStatus(title + " loaded. Tap Start to begin.")
	c.logger.Info("procedure loaded", zap.String("id", p.ID), zap.String("title", title), zap.Int("steps", len(steps)))
	return nil
}

// ClearProcedure drops any loaded steps and returns to auto-identify.
func (c *Coach) ClearProcedure() {
	c.mu.Lock()
	defer c.unlock()
	c.s.replaceSteps(nil, false)
	c.s.TargetObject = ""
	c.s.Mode = ModeReady
	c.resetConfirm()
	c.s.setStatus("Auto-identify mode enabled. Tap Start to detect object.")
}

// VoiceContext returns what the voice classifier needs to build its legal
// action set.
func (c *Coach) VoiceContext() (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.Mode, c.s.Paused
}

// SetVoice records the voice subsystem's state for the projection.
func (c *Coach) SetVoice(v VoiceInfo) {
	c.mu.Lock()
	defer c.unlock()
	c.voice = v
}

// Snapshot returns a copy of the session.
func (c *Coach) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.s
	s.Steps = append([]Step(nil), c.s.Steps...)
	return s
}
