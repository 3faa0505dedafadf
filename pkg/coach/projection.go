package coach

import (
	"fmt"
)

// Step display states.
const (
	StepCompleted = "completed"
	StepActive    = "active"
	StepPending   = "pending"
)

// VoiceInfo is the voice subsystem's contribution to the projection.
type VoiceInfo struct {
	Transport   string `json:"transport"`
	LastCommand string `json:"last_command,omitempty"`
}

// StepView is one rendered checklist row.
type StepView struct {
	Number  int    `json:"number"`
	Action  string `json:"action"`
	LookFor string `json:"look_for"`
	State   string `json:"state"`
}

// Projection is everything a front end needs to render the session.
type Projection struct {
	Mode          Mode       `json:"mode"`
	Badge         string     `json:"badge"`
	Button        string     `json:"button"`
	Status        string     `json:"status"`
	StatusIsError bool       `json:"status_is_error"`
	TargetObject  string     `json:"target_object,omitempty"`
	CurrentStep   int        `json:"current_step"`
	Steps         []StepView `json:"steps"`
	Paused        bool       `json:"paused"`
	Running       bool       `json:"running"`
	Voice         VoiceInfo  `json:"voice"`
}

// Projection renders the current session.
func (c *Coach) Projection() Projection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectionLocked()
}

func (c *Coach) projectionLocked() Projection {
	s := &c.s
	p := Projection{
		Mode:          s.Mode,
		Badge:         Badge(s),
		Button:        Button(s),
		Status:        s.Status,
		StatusIsError: s.StatusIsError,
		TargetObject:  s.TargetObject,
		CurrentStep:   s.CurrentStep,
		Steps:         make([]StepView, len(s.Steps)),
		Paused:        s.Paused,
		Running:       s.Running,
		Voice:         c.voice,
	}
	for i, st := range s.Steps {
		state := StepPending
		switch {
		case st.Completed:
			state = StepCompleted
		case i == s.CurrentStep:
			state = StepActive
		}
		p.Steps[i] = StepView{Number: i + 1, Action: st.Action, LookFor: st.LookFor, State: state}
	}
	return p
}

// Badge is the short progress label for s.
func Badge(s *Session) string {
	switch s.Mode {
	case ModeReady:
		if len(s.Steps) > 0 {
			return "SOP READY"
		}
		return "READY"
	case ModeIdentifying:
		return "SCANNING"
	case ModeCoaching:
		return fmt.Sprintf("%d/%d", s.CompletedCount(), len(s.Steps))
	default:
		return "COMPLETE"
	}
}

// Button is the primary button label for s.
func Button(s *Session) string {
	switch s.Mode {
	case ModeReady:
		if len(s.Steps) > 0 {
			return "ENGAGE"
		}
		return "SCAN"
	case ModeIdentifying:
		return "SCANNING..."
	case ModeCoaching:
		return "SKIP →"
	default:
		return "NEW TARGET"
	}
}

// Subscribe returns a channel that receives the latest projection after every
// change, starting with the current one. Slow readers only see the newest
// value. Call cancel to stop and close the channel.
func (c *Coach) Subscribe() (<-chan Projection, func()) {
	ch := make(chan Projection, 1)

	c.mu.Lock()
	proj := c.projectionLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()
	c.subs[ch] = struct{}{}
	ch <- proj
	c.notifyMu.Unlock()

	cancel := func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func publish(ch chan Projection, p Projection) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
