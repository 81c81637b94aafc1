package orchestrator

import "github.com/ahrav/go-charstates/internal/domain"

// Event types emitted by Run.
const (
	// EventItemAccepted is emitted once per accepted item.
	EventItemAccepted = "extraction.item_accepted"

	// EventItemFailed is emitted once per failed item, including items never attempted.
	EventItemFailed = "extraction.item_failed"

	// EventRunCompleted is emitted after every item has been collected.
	EventRunCompleted = "extraction.run_completed"
)

const eventSource = "orchestrator"

// ItemAcceptedPayload is the payload of EventItemAccepted.
type ItemAcceptedPayload struct {
	Record     domain.CharacterRecord `json:"record"`
	Attempts   int                    `json:"attempts"`
	DurationMS int64                  `json:"duration_ms"`
}

// ItemFailedPayload is the payload of EventItemFailed.
type ItemFailedPayload struct {
	Index     domain.ItemIndex     `json:"index"`
	Reason    domain.FailureReason `json:"reason"`
	Attempts  int                  `json:"attempts"`
	LastError string               `json:"last_error,omitempty"`
}

// RunCompletedPayload is the payload of EventRunCompleted.
type RunCompletedPayload struct {
	Range     domain.ItemRange   `json:"range"`
	Accepted  int                `json:"accepted"`
	Failed    []domain.ItemIndex `json:"failed"`
	ElapsedMS int64              `json:"elapsed_ms"`
}
