package parse

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedProcedure is returned when no strategy recovers a procedure.
var ErrMalformedProcedure = errors.New("model returned malformed JSON for procedure")

// ErrNoProcedureSteps is returned when a procedure decodes but has no steps.
var ErrNoProcedureSteps = errors.New("no procedure steps were generated")

// ProcedureStep is one numbered step of a generated procedure.
type ProcedureStep struct {
	Number         int    `json:"step"`
	Action         string `json:"action"`
	LookFor        string `json:"look_for"`
	CommonMistakes string `json:"common_mistakes"`
}

// ProcedureResult is a generated procedure before it is stored.
type ProcedureResult struct {
	Title string          `json:"title"`
	Role  string          `json:"role"`
	Steps []ProcedureStep `json:"steps"`
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	adjacentObjs  = regexp.MustCompile(`}\s*{`)
	adjacentArrs  = regexp.MustCompile(`]\s*\[`)
	numberedLine  = regexp.MustCompile(`(?i)^(?:step\s*)?(\d+)[).\-:]\s*(.+)$`)
	bulletLine    = regexp.MustCompile(`^[-*]\s+`)
)

// Procedure recovers a procedure from a generation reply: whole parse, then
// the outer object span, then a repaired span, then loose numbered or bulleted
// text. The result is normalized.
func Procedure(text string) (ProcedureResult, error) {
	clean := StripFences(text)

	obj, err := decodeProcedureObject(clean)
	if err != nil {
		loose, ok := looseProcedure(clean)
		if !ok {
			return ProcedureResult{}, ErrMalformedProcedure
		}
		return NormalizeProcedure(loose)
	}
	return NormalizeProcedure(procedureFromMap(obj))
}

func decodeProcedureObject(clean string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(clean), &obj); err == nil && obj != nil {
		return obj, nil
	}
	span := objectSpan.FindString(clean)
	if span == "" {
		return nil, ErrMalformedProcedure
	}
	obj = nil
	if err := json.Unmarshal([]byte(span), &obj); err == nil && obj != nil {
		return obj, nil
	}
	obj = nil
	if err := json.Unmarshal([]byte(RepairJSON(span)), &obj); err == nil && obj != nil {
		return obj, nil
	}
	return nil, ErrMalformedProcedure
}

// RepairJSON fixes the common slips in model-written JSON: trailing commas and
// missing commas between adjacent objects or arrays.
func RepairJSON(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingComma.ReplaceAllString(s, "$1")
	s = adjacentObjs.ReplaceAllString(s, "},{")
	s = adjacentArrs.ReplaceAllString(s, "],[")
	return s
}

func procedureFromMap(obj map[string]any) ProcedureResult {
	res := ProcedureResult{
		Title: stringField(obj, "title"),
		Role:  stringField(obj, "role"),
	}
	raw, _ := obj["steps"].([]any)
	for i, entry := range raw {
		switch v := entry.(type) {
		case string:
			res.Steps = append(res.Steps, ProcedureStep{Number: i + 1, Action: v})
		case map[string]any:
			st := ProcedureStep{
				Action:         stringField(v, "action"),
				LookFor:        stringField(v, "look_for"),
				CommonMistakes: stringField(v, "common_mistakes"),
			}
			if st.Action == "" {
				st.Action = stringField(v, "text")
			}
			if n, ok := v["step"].(float64); ok {
				st.Number = int(n)
			}
			res.Steps = append(res.Steps, st)
		}
	}
	return res
}

func looseProcedure(text string) (ProcedureResult, bool) {
	res := ProcedureResult{}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return res, false
	}

	for _, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "title:"):
			res.Title = strings.TrimSpace(line[strings.Index(line, ":")+1:])
			continue
		case strings.HasPrefix(lower, "role:"):
			res.Role = strings.TrimSpace(line[strings.Index(line, ":")+1:])
			continue
		}
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n == 0 {
				n = len(res.Steps) + 1
			}
			res.Steps = append(res.Steps, ProcedureStep{Number: n, Action: strings.TrimSpace(m[2])})
		}
	}

	if len(res.Steps) == 0 {
		for _, line := range lines {
			if bulletLine.MatchString(line) {
				res.Steps = append(res.Steps, ProcedureStep{
					Number: len(res.Steps) + 1,
					Action: strings.TrimSpace(bulletLine.ReplaceAllString(line, "")),
				})
			}
		}
	}
	return res, len(res.Steps) > 0
}

// NormalizeProcedure fills defaults: title "Generated SOP", role "operator",
// sequential step numbers and "Step N" for missing actions.
func NormalizeProcedure(p ProcedureResult) (ProcedureResult, error) {
	out := ProcedureResult{
		Title: strings.TrimSpace(p.Title),
		Role:  strings.TrimSpace(p.Role),
		Steps: make([]ProcedureStep, 0, len(p.Steps)),
	}
	if out.Title == "" {
		out.Title = "Generated SOP"
	}
	if out.Role == "" {
		out.Role = "operator"
	}
	for i, st := range p.Steps {
		if st.Number <= 0 {
			st.Number = i + 1
		}
		st.Action = strings.TrimSpace(st.Action)
		if st.Action == "" {
			st.Action = "Step " + strconv.Itoa(i+1)
		}
		out.Steps = append(out.Steps, st)
	}
	if len(out.Steps) == 0 {
		return ProcedureResult{}, ErrNoProcedureSteps
	}
	return out, nil
}
