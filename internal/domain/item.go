// Package domain provides the core types for character-state extraction runs.
// It defines item indices and ranges, the structured payloads produced by the
// extraction and evaluation models, per-item task outcomes, and the final
// partition of a run into accepted and failed items.
//
// Every type here is a plain value: nothing in this package performs I/O or
// holds shared mutable state, so values can be passed freely between the
// worker goroutines of an orchestration run.
package domain

import (
	"fmt"
)

// ItemIndex identifies one unit of work, a single morphological character.
// Indices are immutable once assigned and unique within a run.
type ItemIndex int

// IndexingMode selects whether the character numbering in the source
// document starts at 0 or 1.
type IndexingMode uint8

const (
	// OneBased numbers characters 1..N. This is the default.
	OneBased IndexingMode = iota

	// ZeroBased numbers characters 0..N.
	ZeroBased
)

// String returns the string representation of an IndexingMode.
func (m IndexingMode) String() string {
	switch m {
	case OneBased:
		return "one_based"
	case ZeroBased:
		return "zero_based"
	default:
		return "unknown"
	}
}

// ModeFor maps the zero-indexed flag used by configuration and the CLI to an
// IndexingMode.
func ModeFor(zeroIndexed bool) IndexingMode {
	if zeroIndexed {
		return ZeroBased
	}
	return OneBased
}

// ItemRange is a contiguous, inclusive range of item indices.
type ItemRange struct {
	Start ItemIndex `json:"start" validate:"min=0"`
	End   ItemIndex `json:"end"   validate:"gtefield=Start"`
}

// NewItemRange computes the inclusive range for a run over totalCharacters
// characters. The start is 0 or 1 depending on mode and the end is always
// totalCharacters, matching how characters are numbered in the source
// article: a zero-based article with total 3 covers 0..3.
func NewItemRange(totalCharacters int, mode IndexingMode) (ItemRange, error) {
	start := ItemIndex(1)
	if mode == ZeroBased {
		start = 0
	}

	r := ItemRange{Start: start, End: ItemIndex(totalCharacters)}
	if err := r.Validate(); err != nil {
		return ItemRange{}, fmt.Errorf("total characters %d (%s): %w", totalCharacters, mode, err)
	}
	return r, nil
}

// Validate checks that the range is non-empty and non-negative.
func (r ItemRange) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	return nil
}

// Len returns the number of items in the range.
func (r ItemRange) Len() int {
	return int(r.End-r.Start) + 1
}

// Indices returns every index in the range in ascending order.
func (r ItemRange) Indices() []ItemIndex {
	out := make([]ItemIndex, 0, r.Len())
	for i := r.Start; i <= r.End; i++ {
		out = append(out, i)
	}
	return out
}

// Contains reports whether idx lies inside the range.
func (r ItemRange) Contains(idx ItemIndex) bool {
	return idx >= r.Start && idx <= r.End
}

func (r ItemRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}
