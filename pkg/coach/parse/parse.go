// Package parse recovers structured results from model replies that are
// nominally JSON but may be fenced, prefixed with prose or truncated.
package parse

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// DefaultLookFor is the cue given to steps that arrive without one.
const DefaultLookFor = "Look for visible completion of this action."

var (
	fenceOpen   = regexp.MustCompile("(?i)```json\\s*")
	fenceAny    = regexp.MustCompile("```\\s*")
	objectSpan  = regexp.MustCompile(`\{[\s\S]*\}`)
	firstNumber = regexp.MustCompile(`-?\d+`)
	nonLetters  = regexp.MustCompile(`[^a-z]`)
)

// Step is a normalized checklist entry.
type Step struct {
	Action  string `json:"action"`
	LookFor string `json:"look_for"`
}

// IdentifyResult is a parsed identify reply.
type IdentifyResult struct {
	Object string
	Steps  []Step
}

// ProgressResult is a parsed progress-check reply.
type ProgressResult struct {
	Observation   string
	CompletedStep int
	ObjectVisible bool
	// Scraped is set when only the numeric fallback produced the result.
	Scraped bool
}

// StripFences removes ```json and ``` markers and trims the result.
func StripFences(text string) string {
	clean := fenceOpen.ReplaceAllString(text, "")
	clean = fenceAny.ReplaceAllString(clean, "")
	return strings.TrimSpace(clean)
}

// decodeObject tries the fence-stripped text as a whole, then the span from
// the first '{' to the last '}'.
func decodeObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(StripFences(text)), &obj); err == nil && obj != nil {
		return obj, true
	}
	if span := objectSpan.FindString(text); span != "" {
		obj = nil
		if err := json.Unmarshal([]byte(span), &obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// Identify parses an identify reply. It requires a non-empty object name and
// at least one usable step.
func Identify(text string) (IdentifyResult, bool) {
	obj, ok := decodeObject(text)
	if !ok {
		return IdentifyResult{}, false
	}
	name, _ := obj["object"].(string)
	name = strings.TrimSpace(name)
	rawSteps, isList := obj["steps"].([]any)
	if name == "" || !isList {
		return IdentifyResult{}, false
	}
	steps := Steps(rawSteps)
	if len(steps) == 0 {
		return IdentifyResult{}, false
	}
	return IdentifyResult{Object: name, Steps: steps}, true
}

// Progress parses a progress-check reply. A reply with no decodable object
// falls back to the first integer in the text.
func Progress(text string) (ProgressResult, bool) {
	if obj, ok := decodeObject(text); ok {
		if n, isNum := obj["completed_step"].(float64); isNum {
			res := ProgressResult{CompletedStep: int(n), ObjectVisible: true}
			if v, isBool := obj["object_visible"].(bool); isBool {
				res.ObjectVisible = v
			}
			if s, isStr := obj["observation"].(string); isStr {
				res.Observation = strings.TrimSpace(s)
			}
			return res, true
		}
	}
	if m := firstNumber.FindString(text); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil {
			return ProgressResult{
				Observation:   strings.TrimSpace(text),
				CompletedStep: n,
				ObjectVisible: true,
				Scraped:       true,
			}, true
		}
	}
	return ProgressResult{}, false
}

// Steps normalizes step entries given as plain strings or as objects with
// action (or text) and look_for. Entries without usable action text are
// dropped.
func Steps(raw []any) []Step {
	out := make([]Step, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			if action := strings.TrimSpace(v); action != "" {
				out = append(out, Step{Action: action, LookFor: DefaultLookFor})
			}
		case map[string]any:
			action := stringField(v, "action")
			if _, has := v["action"].(string); !has {
				action = stringField(v, "text")
			}
			if action == "" {
				continue
			}
			lookFor := stringField(v, "look_for")
			if lookFor == "" {
				lookFor = DefaultLookFor
			}
			out = append(out, Step{Action: action, LookFor: lookFor})
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// Command normalizes a one-word classifier reply: lowercase, letters only.
func Command(text string) string {
	return nonLetters.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
}
