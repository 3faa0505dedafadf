package coach

import "time"

// Mode is the coaching phase.
type Mode string

const (
	ModeReady       Mode = "ready"
	ModeIdentifying Mode = "identifying"
	ModeCoaching    Mode = "coaching"
	ModeComplete    Mode = "complete"
)

// AllDone is the CurrentStep sentinel once every step is completed.
const AllDone = -1

// Step is one checklist entry. Order is task order.
type Step struct {
	Action    string `json:"action"`
	LookFor   string `json:"look_for"`
	Completed bool   `json:"completed"`
}

// Session is the single mutable coaching state. A Coach owns exactly one and
// guards it with its mutex; the methods here assume the caller holds it.
type Session struct {
	Mode              Mode
	Steps             []Step
	CurrentStep       int
	ConsecutiveErrors int
	BackoffUntil      time.Time
	TargetObject      string
	LostStreak        int

	Running    bool
	Paused     bool
	Processing bool

	Status        string
	StatusIsError bool

	// fromProcedure is set when Steps came from a stored procedure, or once
	// identify-drafted steps have been handed to the completion hook.
	fromProcedure bool

	// generation changes whenever the step list is replaced or reset, so an
	// in-flight model reply can tell it was computed for different steps.
	generation uint64
}

// NewSession returns a session in the ready state with no steps.
func NewSession() Session {
	return Session{Mode: ModeReady}
}

// MarkCompleted completes every step at index <= upTo. It is monotonic and
// idempotent: it reports whether any flag changed, and only then recomputes
// CurrentStep. Reaching the sentinel moves the session to ModeComplete and
// reports completed=true exactly once.
func (s *Session) MarkCompleted(upTo int) (changed, completed bool) {
	if upTo < 0 || len(s.Steps) == 0 {
		return false, false
	}
	if upTo >= len(s.Steps) {
		upTo = len(s.Steps) - 1
	}
	for i := 0; i <= upTo; i++ {
		if !s.Steps[i].Completed {
			s.Steps[i].Completed = true
			changed = true
		}
	}
	if !changed {
		return false, false
	}

	s.CurrentStep = s.firstIncomplete()
	if s.CurrentStep == AllDone && s.Mode != ModeComplete {
		s.Mode = ModeComplete
		completed = true
	}
	return changed, completed
}

func (s *Session) firstIncomplete() int {
	for i, st := range s.Steps {
		if !st.Completed {
			return i
		}
	}
	return AllDone
}

// HasCurrentStep reports whether CurrentStep points at a real step.
func (s Session) HasCurrentStep() bool {
	return s.CurrentStep >= 0 && s.CurrentStep < len(s.Steps)
}

// CompletedCount returns how many steps are done.
func (s Session) CompletedCount() int {
	n := 0
	for _, st := range s.Steps {
		if st.Completed {
			n++
		}
	}
	return n
}

// Reset returns to ready. Existing steps are kept and marked incomplete; with
// no steps the target object is cleared too.
func (s *Session) Reset() {
	s.Mode = ModeReady
	if len(s.Steps) > 0 {
		for i := range s.Steps {
			s.Steps[i].Completed = false
		}
	} else {
		s.Steps = nil
		s.TargetObject = ""
	}
	s.CurrentStep = 0
	s.LostStreak = 0
	s.generation++
}

// replaceSteps installs a fresh, all-incomplete step list.
func (s *Session) replaceSteps(steps []Step, fromProcedure bool) {
	s.Steps = nil
	if len(steps) > 0 {
		s.Steps = make([]Step, len(steps))
	}
	for i, st := range steps {
		s.Steps[i] = Step{Action: st.Action, LookFor: st.LookFor}
	}
	s.CurrentStep = 0
	s.LostStreak = 0
	s.fromProcedure = fromProcedure
	s.generation++
}

func (s *Session) setStatus(text string) {
	s.Status = text
	s.StatusIsError = false
}

func (s *Session) setError(text string) {
	s.Status = text
	s.StatusIsError = true
}
