// Package workflow runs an extraction over Temporal as an alternative to the
// in-process orchestrator.
//
// ExtractionWorkflow schedules one ProcessItem activity per character index
// and collects the results in ascending index order, so the RunResult is the
// same partition the in-process orchestrator produces. Each activity runs
// the full extract, evaluate and retry state machine for its item and never
// fails for item-level reasons; only infrastructure failures (worker loss,
// timeouts) surface as activity errors, and those are recorded as failed
// items.
//
// Workflow code uses workflow-safe APIs only. Time, randomness and network
// I/O live in the activity.
package workflow
