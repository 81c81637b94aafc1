// Package worker registers the extraction workflow and its activities with a
// Temporal worker and builds the Temporal client the worker runs on.
package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"
	sdkworker "go.temporal.io/sdk/worker"
	sdkworkflow "go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-charstates/internal/activity"
	"github.com/ahrav/go-charstates/internal/workflow"
)

// WorkflowName is the registered name of workflow.ExtractionWorkflow.
const WorkflowName = "ExtractionWorkflow"

// Registrar is the subset of worker.Worker used by RegisterAll, so the
// Temporal test environment can stand in for a real worker.
type Registrar interface {
	RegisterWorkflowWithOptions(w any, options sdkworkflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options sdkactivity.RegisterOptions)
}

var _ Registrar = sdkworker.Worker(nil)

// RegisterAll registers the workflow and activities under stable names. It
// must be called once, before the worker starts.
func RegisterAll(w Registrar, acts *activity.Activities) {
	w.RegisterWorkflowWithOptions(workflow.ExtractionWorkflow, sdkworkflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(acts.ProcessItem, sdkactivity.RegisterOptions{Name: activity.ProcessItemName})
}
