package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/internal/domain"
	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

func TestParseExtraction(t *testing.T) {
	want := domain.ExtractionResult{Character: "Maxilla shape", States: []string{"short", "elongate"}}

	tests := []struct {
		name    string
		content string
	}{
		{name: "strict json", content: `{"character":"Maxilla shape","states":["short","elongate"]}`},
		{name: "trailing comma", content: `{"character":"Maxilla shape","states":["short","elongate",],}`},
		{name: "truncated closers", content: `{"character":"Maxilla shape","states":["short","elongate"`},
		{name: "unquoted keys", content: `{character:"Maxilla shape", states:["short","elongate"]}`},
		{name: "single quotes", content: `{'character':'Maxilla shape','states':['short','elongate']}`},
		{name: "markdown fence", content: "Here you go:\n```json\n{\"character\":\"Maxilla shape\",\"states\":[\"short\",\"elongate\"]}\n```"},
		{name: "prose around object", content: `Sure. {"character":"Maxilla shape","states":["short","elongate"]} Hope that helps.`},
		{name: "whitespace is trimmed", content: `{"character":"  Maxilla shape ","states":[" short","elongate ",""]}`},
		{name: "byte order mark", content: "\ufeff{\"character\":\"Maxilla shape\",\"states\":[\"short\",\"elongate\"]}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExtraction(tt.content)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseExtractionRejectsUnusableContent(t *testing.T) {
	for _, content := range []string{
		``,
		`not json at all`,
		`{"character":"","states":["a"]}`,
		`{"character":"x","states":[]}`,
		`{"character":"x","states":["  "]}`,
	} {
		_, err := ParseExtraction(content)
		require.Error(t, err, content)

		var valErr *llmerrors.ValidationError
		assert.ErrorAs(t, err, &valErr)
		assert.ErrorIs(t, err, llmerrors.ErrJSONValidation)
	}
}

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    domain.EvaluationResult
	}{
		{name: "integer score", content: `{"score":8,"justification":"matches source"}`, want: domain.EvaluationResult{Score: 8, Justification: "matches source"}},
		{name: "fractional score rounds", content: `{"score":7.6,"justification":"close"}`, want: domain.EvaluationResult{Score: 8, Justification: "close"}},
		{name: "percentage score scales", content: `{"score":85,"justification":"good"}`, want: domain.EvaluationResult{Score: 9, Justification: "good"}},
		{name: "zero score", content: `{"score":0,"justification":"wrong character"}`, want: domain.EvaluationResult{Score: 0, Justification: "wrong character"}},
		{name: "fenced", content: "```\n{\"score\": 10, \"justification\": \"exact\"}\n```", want: domain.EvaluationResult{Score: 10, Justification: "exact"}},
		{name: "missing justification", content: `{"score":6}`, want: domain.EvaluationResult{Score: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvaluation(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEvaluationRejectsOutOfRange(t *testing.T) {
	for _, content := range []string{`{"score":-1}`, `{"score":250}`, `{"score":"high"}`} {
		_, err := ParseEvaluation(content)
		assert.ErrorIs(t, err, llmerrors.ErrJSONValidation, content)
	}
}

func TestExtractJSONReturnsInputWithoutObject(t *testing.T) {
	assert.Equal(t, "no braces", extractJSON("no braces"))
}
