package procedures

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoSteps is returned when an imported procedure has no usable step.
var ErrNoSteps = errors.New("procedure has no steps")

// Decode reads a procedure document. YAML is a superset of JSON, so both
// formats are accepted. Steps are renumbered and blank actions dropped.
func Decode(r io.Reader) (Procedure, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(false)

	var p Procedure
	if err := dec.Decode(&p); err != nil {
		return Procedure{}, fmt.Errorf("decode procedure: %w", err)
	}
	return Clean(p)
}

// Encode writes p as YAML.
func Encode(w io.Writer, p Procedure) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode procedure: %w", err)
	}
	return enc.Close()
}

// Marshal is Encode into a byte slice.
func Marshal(p Procedure) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Clean trims fields, drops steps without an action and renumbers the rest.
func Clean(p Procedure) (Procedure, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.Role = strings.TrimSpace(p.Role)

	steps := make([]Step, 0, len(p.Steps))
	for _, st := range p.Steps {
		st.Action = strings.TrimSpace(st.Action)
		if st.Action == "" {
			continue
		}
		st.LookFor = strings.TrimSpace(st.LookFor)
		st.CommonMistakes = strings.TrimSpace(st.CommonMistakes)
		st.Number = len(steps) + 1
		steps = append(steps, st)
	}
	if len(steps) == 0 {
		return Procedure{}, ErrNoSteps
	}
	p.Steps = steps
	if p.Title == "" {
		p.Title = "Imported SOP"
	}
	return p, nil
}
