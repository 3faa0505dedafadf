package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcedure_CleanJSON(t *testing.T) {
	got, err := Procedure(`{"title":"Espresso","role":"barista","steps":[
		{"step":1,"action":"Grind","look_for":"Grounds in basket","common_mistakes":"Over-dosing"},
		{"action":"Tamp"}
	]}`)
	require.NoError(t, err)
	assert.Equal(t, "Espresso", got.Title)
	assert.Equal(t, "barista", got.Role)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, ProcedureStep{Number: 1, Action: "Grind", LookFor: "Grounds in basket", CommonMistakes: "Over-dosing"}, got.Steps[0])
	assert.Equal(t, 2, got.Steps[1].Number)
}

func TestProcedure_RepairsTrailingAndMissingCommas(t *testing.T) {
	got, err := Procedure("```json\n{\"title\":\"Tire change\",\"steps\":[{\"action\":\"Loosen nuts\",} {\"action\":\"Jack up car\"},],}\n```")
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "Jack up car", got.Steps[1].Action)
	assert.Equal(t, "operator", got.Role)
}

func TestProcedure_LooseNumberedText(t *testing.T) {
	got, err := Procedure("Title: Pour-over\nRole: barista\n1. Heat water\nStep 2: Rinse filter\n3) Add grounds\nsome chatter")
	require.NoError(t, err)
	assert.Equal(t, "Pour-over", got.Title)
	assert.Equal(t, "barista", got.Role)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, ProcedureStep{Number: 2, Action: "Rinse filter"}, got.Steps[1])
}

func TestProcedure_LooseBullets(t *testing.T) {
	got, err := Procedure("- Unplug the unit\n* Open the cover\nnot a step")
	require.NoError(t, err)
	assert.Equal(t, "Generated SOP", got.Title)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "Open the cover", got.Steps[1].Action)
	assert.Equal(t, 2, got.Steps[1].Number)
}

func TestProcedure_Failures(t *testing.T) {
	_, err := Procedure("nothing here at all")
	assert.ErrorIs(t, err, ErrMalformedProcedure)

	_, err = Procedure(`{"title":"Empty","steps":[]}`)
	assert.ErrorIs(t, err, ErrNoProcedureSteps)
}

func TestNormalizeProcedure_FillsMissingActions(t *testing.T) {
	got, err := NormalizeProcedure(ProcedureResult{Steps: []ProcedureStep{{}, {Action: " Wipe "}}})
	require.NoError(t, err)
	assert.Equal(t, "Step 1", got.Steps[0].Action)
	assert.Equal(t, "Wipe", got.Steps[1].Action)
}

func TestRepairJSON(t *testing.T) {
	assert.Equal(t, `[{"a":1},{"b":2}]`, RepairJSON(`[{"a":1} {"b":2},]`))
	assert.Equal(t, `[[1],[2]]`, RepairJSON(`[[1] [2]]`))
}
