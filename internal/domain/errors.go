package domain

import "errors"

// ErrInvalidRange indicates that an item range is empty, negative, or inverted.
var ErrInvalidRange = errors.New("invalid item range")

// ErrInvalidExtraction indicates that an extraction payload is missing its
// character label or states.
var ErrInvalidExtraction = errors.New("invalid extraction result")

// ErrInvalidEvaluation indicates that an evaluation payload is malformed.
var ErrInvalidEvaluation = errors.New("invalid evaluation result")

// ErrInvalidOutcome indicates that a task outcome violates its variant rules.
var ErrInvalidOutcome = errors.New("invalid task outcome")
