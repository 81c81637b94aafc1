package domain

import (
	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// cloneStates copies a state list so callers cannot alias a stored payload.
// Returns nil for nil input to maintain consistency.
func cloneStates(states []string) []string {
	if states == nil {
		return nil
	}
	out := make([]string, len(states))
	copy(out, states)
	return out
}
