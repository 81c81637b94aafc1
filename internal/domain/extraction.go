package domain

import (
	"encoding/json"
	"fmt"
)

// Score bounds for evaluation results. The judge rates extractions on a
// 0-10 scale; the acceptance threshold itself lives in the retry policy.
const (
	// MinScore is the lowest valid score.
	MinScore = 0

	// MaxScore is the highest valid score.
	MaxScore = 10
)

// ExtractionResult is the structured candidate produced by the extraction
// model for one character: a label and the ordered list of its states.
// The orchestrator treats it as an opaque payload except when merging it
// into the final CharacterRecord.
type ExtractionResult struct {
	Character string   `json:"character" validate:"required"`
	States    []string `json:"states"    validate:"required,min=1,dive,required"`
}

// Validate checks that the label and every state are present.
func (e ExtractionResult) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExtraction, err)
	}
	return nil
}

// Clone returns a deep copy of the extraction.
func (e ExtractionResult) Clone() ExtractionResult {
	return ExtractionResult{Character: e.Character, States: cloneStates(e.States)}
}

// JSON renders the extraction the way the model returned it. It is used to
// feed rejected attempts back into the next prompt.
func (e ExtractionResult) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		// Marshal of a struct of strings cannot fail.
		return fmt.Sprintf("%+v", e)
	}
	return string(b)
}

// EvaluationResult is the judge's verdict on one extraction.
type EvaluationResult struct {
	Score         int    `json:"score"         validate:"min=0,max=10"`
	Justification string `json:"justification"`
}

// Validate checks the score bounds.
func (e EvaluationResult) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvaluation, err)
	}
	return nil
}

// AttemptRecord captures one rejected attempt so the next extraction prompt
// can carry feedback. Records are transient and never persisted.
type AttemptRecord struct {
	AttemptNumber int
	// Prior is the extraction that was rejected, if the attempt got that far.
	Prior *ExtractionResult
	// Evaluation is the low-score verdict that rejected Prior.
	Evaluation *EvaluationResult
	Err        error
}
