package domain

import (
	"fmt"
	"time"
)

// OutcomeKind tags the TaskOutcome variant.
type OutcomeKind uint8

const (
	// OutcomeAccepted means the extraction passed evaluation.
	OutcomeAccepted OutcomeKind = iota + 1

	// OutcomeFailed means the task gave up after exhausting its retries.
	OutcomeFailed
)

// String returns the string representation of an OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureReason explains why a task ended in OutcomeFailed.
type FailureReason string

const (
	// FailureLowScore: every content attempt scored below the threshold.
	FailureLowScore FailureReason = "low_score"

	// FailureExternalError: permanent errors used up the content attempts.
	FailureExternalError FailureReason = "external_error"

	// FailureRateLimited: the rate-limit retry budget ran out.
	FailureRateLimited FailureReason = "rate_limited"

	// FailureCancelled: the run was cancelled while the task was in flight.
	FailureCancelled FailureReason = "cancelled"

	// FailureNotAttempted: the run was cancelled before the task started.
	FailureNotAttempted FailureReason = "not_attempted"
)

// TaskOutcome is the single terminal result of one item's task. Exactly one
// outcome exists per ItemIndex at the end of a run. Construct it with
// Accepted or Failed; the zero value is invalid.
type TaskOutcome struct {
	Index      ItemIndex         `json:"index"`
	Kind       OutcomeKind       `json:"kind"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`

	// Attempts is the number of extraction calls the task made.
	Attempts int `json:"attempts"`
	// Reason is set for failed outcomes only.
	Reason FailureReason `json:"reason,omitempty"`
	// LastError is the text of the last error seen, if any.
	LastError string        `json:"last_error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Accepted builds the accepted variant.
func Accepted(idx ItemIndex, ext ExtractionResult, eval EvaluationResult) TaskOutcome {
	e := ext.Clone()
	v := eval
	return TaskOutcome{Index: idx, Kind: OutcomeAccepted, Extraction: &e, Evaluation: &v}
}

// Failed builds the failed variant.
func Failed(idx ItemIndex, reason FailureReason) TaskOutcome {
	return TaskOutcome{Index: idx, Kind: OutcomeFailed, Reason: reason}
}

// IsAccepted reports whether the outcome is the accepted variant.
func (o TaskOutcome) IsAccepted() bool { return o.Kind == OutcomeAccepted }

// Validate enforces the variant invariants: accepted outcomes carry both
// payloads, failed outcomes carry neither.
func (o TaskOutcome) Validate() error {
	switch o.Kind {
	case OutcomeAccepted:
		if o.Extraction == nil || o.Evaluation == nil {
			return fmt.Errorf("%w: accepted outcome for %d missing payload", ErrInvalidOutcome, o.Index)
		}
	case OutcomeFailed:
		if o.Extraction != nil || o.Evaluation != nil {
			return fmt.Errorf("%w: failed outcome for %d carries payload", ErrInvalidOutcome, o.Index)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d for %d", ErrInvalidOutcome, o.Kind, o.Index)
	}
	return nil
}

// CharacterRecord is an accepted outcome flattened for the downstream
// patcher: the index merged with the extraction and its evaluation.
type CharacterRecord struct {
	Index         ItemIndex `json:"character_index"`
	Character     string    `json:"character"`
	States        []string  `json:"states"`
	Score         int       `json:"score"`
	Justification string    `json:"justification"`
}

// Record flattens an accepted outcome. It returns false for failed outcomes.
func (o TaskOutcome) Record() (CharacterRecord, bool) {
	if !o.IsAccepted() || o.Extraction == nil || o.Evaluation == nil {
		return CharacterRecord{}, false
	}
	return CharacterRecord{
		Index:         o.Index,
		Character:     o.Extraction.Character,
		States:        cloneStates(o.Extraction.States),
		Score:         o.Evaluation.Score,
		Justification: o.Evaluation.Justification,
	}, true
}

// RunResult is the final partition of a run. Both sequences are ordered by
// the order in which outcomes were collected, which is ascending index
// order. Every index of the run's range appears in exactly one of them.
type RunResult struct {
	RunID    string        `json:"run_id"`
	Range    ItemRange     `json:"range"`
	Accepted []TaskOutcome `json:"accepted"`
	Failed   []ItemIndex   `json:"failed"`

	// Outcomes holds every outcome, accepted or not, in collection order.
	// It carries the failure reasons that Failed drops.
	Outcomes []TaskOutcome `json:"outcomes"`
	Elapsed  time.Duration `json:"elapsed"`
}

// NewRunResult creates an empty result sized for r.
func NewRunResult(runID string, r ItemRange) *RunResult {
	return &RunResult{
		RunID:    runID,
		Range:    r,
		Accepted: make([]TaskOutcome, 0, r.Len()),
		Failed:   make([]ItemIndex, 0),
		Outcomes: make([]TaskOutcome, 0, r.Len()),
	}
}

// Add appends one collected outcome to the partition.
func (r *RunResult) Add(o TaskOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.IsAccepted() {
		r.Accepted = append(r.Accepted, o)
		return
	}
	r.Failed = append(r.Failed, o.Index)
}

// Total returns the number of collected outcomes.
func (r *RunResult) Total() int {
	return len(r.Accepted) + len(r.Failed)
}

// Complete reports whether every index in the range has an outcome.
func (r *RunResult) Complete() bool {
	return r.Total() == r.Range.Len()
}

// AcceptedIndices returns the indices of accepted outcomes in order.
func (r *RunResult) AcceptedIndices() []ItemIndex {
	out := make([]ItemIndex, len(r.Accepted))
	for i, o := range r.Accepted {
		out[i] = o.Index
	}
	return out
}

// FailedIndices returns a copy of the failed indices in order.
func (r *RunResult) FailedIndices() []ItemIndex {
	out := make([]ItemIndex, len(r.Failed))
	copy(out, r.Failed)
	return out
}

// Records flattens the accepted outcomes for the downstream patcher.
func (r *RunResult) Records() []CharacterRecord {
	out := make([]CharacterRecord, 0, len(r.Accepted))
	for _, o := range r.Accepted {
		if rec, ok := o.Record(); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Validate checks the partition invariants: disjoint, exhaustive over the
// range, and one outcome per index.
func (r *RunResult) Validate() error {
	seen := make(map[ItemIndex]struct{}, r.Total())
	check := func(idx ItemIndex) error {
		if !r.Range.Contains(idx) {
			return fmt.Errorf("%w: index %d outside %s", ErrInvalidOutcome, idx, r.Range)
		}
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("%w: index %d reported twice", ErrInvalidOutcome, idx)
		}
		seen[idx] = struct{}{}
		return nil
	}
	for _, o := range r.Accepted {
		if err := check(o.Index); err != nil {
			return err
		}
	}
	for _, idx := range r.Failed {
		if err := check(idx); err != nil {
			return err
		}
	}
	if len(seen) != r.Range.Len() {
		return fmt.Errorf("%w: %d of %d indices reported", ErrInvalidOutcome, len(seen), r.Range.Len())
	}
	return nil
}
