package providers

import (
	"fmt"

	"github.com/ahrav/go-charstates/internal/llm/transport"
)

// ExtractionSchema is the Gemini response schema of an extraction:
// a character label and its ordered states.
func ExtractionSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"character": map[string]any{"type": "STRING"},
			"states": map[string]any{
				"type":  "ARRAY",
				"items": map[string]any{"type": "STRING"},
			},
		},
		"required":         []string{"character", "states"},
		"propertyOrdering": []string{"character", "states"},
	}
}

// EvaluationSchema is the Gemini response schema of an evaluation.
func EvaluationSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"score":         map[string]any{"type": "INTEGER"},
			"justification": map[string]any{"type": "STRING"},
		},
		"required":         []string{"score", "justification"},
		"propertyOrdering": []string{"score", "justification"},
	}
}

// SchemaFor returns the response schema of an operation.
func SchemaFor(op transport.OperationType) (map[string]any, error) {
	switch op {
	case transport.OpExtraction:
		return ExtractionSchema(), nil
	case transport.OpEvaluation:
		return EvaluationSchema(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperation, op)
	}
}
