package procedures

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/vai-coach/pkg/coach/parse"
	"github.com/vango-go/vai-coach/pkg/core"
)

// MaxGenerateFrames bounds the frames sent for one generation request.
const MaxGenerateFrames = 12

// ErrNoContent is returned when a generation request has nothing to work from.
var ErrNoContent = errors.New("no training content or frames provided")

const generateSystemPrompt = `You are an expert at writing Standard Operating Procedures (SOPs) for physical, hands-on work.

Turn the user's training material into a structured SOP.

Reply with ONE JSON object in exactly this structure and nothing else, no markdown fences and no commentary:
{
  "title": "Name of the procedure",
  "role": "job role (for example barista, electrician, plumber)",
  "steps": [
    {
      "step": 1,
      "action": "Short instruction for what to do",
      "look_for": "Visual cue that shows the step is being done correctly",
      "common_mistakes": "What tends to go wrong at this step"
    }
  ]
}

Rules:
- One physical action per step
- Keep actions under 15 words
- Use 8 to 15 steps for a typical procedure
- Keep steps in chronological order
- Be specific about quantities, times and positions where they matter
- Return ONLY the JSON object`

// GenerateRequest describes the source material for a generated procedure.
// Text takes precedence over Frames.
type GenerateRequest struct {
	Text    string
	Frames  [][]byte
	Context string
}

// Generator drafts procedures with a model.
type Generator struct {
	model core.ModelClient
}

// NewGenerator creates a Generator.
func NewGenerator(model core.ModelClient) *Generator {
	return &Generator{model: model}
}

// Generate asks the model for a procedure and parses the reply.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (Procedure, error) {
	contextLine := ""
	if c := strings.TrimSpace(req.Context); c != "" {
		contextLine = "\nContext: " + c
	}
	opts := core.GenerateOptions{Temperature: core.Temperature(0.3)}

	var (
		reply      string
		err        error
		sourceType string
	)
	switch {
	case strings.TrimSpace(req.Text) != "":
		sourceType = "text"
		reply, err = g.model.GenerateText(ctx, generateSystemPrompt,
			"Convert this training content into an SOP:\n\n"+strings.TrimSpace(req.Text)+contextLine, opts)
	case len(req.Frames) > 0:
		sourceType = "frames"
		frames := req.Frames
		if len(frames) > MaxGenerateFrames {
			frames = frames[:MaxGenerateFrames]
		}
		reply, err = g.model.AnalyzeImages(ctx, generateSystemPrompt,
			"Generate an SOP from these chronological workflow frames."+contextLine, frames, opts)
	default:
		return Procedure{}, ErrNoContent
	}
	if err != nil {
		return Procedure{}, fmt.Errorf("generate procedure: %w", err)
	}

	result, err := parse.Procedure(reply)
	if err != nil {
		return Procedure{}, err
	}
	p := FromResult(result)
	p.SourceType = sourceType
	return p, nil
}

// FromResult converts a parsed procedure into a storable one.
func FromResult(r parse.ProcedureResult) Procedure {
	p := Procedure{Title: r.Title, Role: r.Role, Steps: make([]Step, 0, len(r.Steps))}
	for _, st := range r.Steps {
		p.Steps = append(p.Steps, Step{
			Number:         st.Number,
			Action:         st.Action,
			LookFor:        st.LookFor,
			CommonMistakes: st.CommonMistakes,
		})
	}
	return p
}
