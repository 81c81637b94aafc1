package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-charstates/internal/activity"
	"github.com/ahrav/go-charstates/internal/config"
	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/workflow"
)

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    log.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// Run starts a worker on taskQueue and blocks until ctx is done.
// maxParallel bounds concurrently executing ProcessItem activities, which
// plays the role of the orchestrator's worker pool size.
func Run(ctx context.Context, c client.Client, taskQueue string, maxParallel int, acts *activity.Activities) error {
	w := sdkworker.New(c, taskQueue, sdkworker.Options{
		MaxConcurrentActivityExecutionSize: maxParallel,
	})
	RegisterAll(w, acts)

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Execute starts ExtractionWorkflow on taskQueue and waits for its result.
func Execute(ctx context.Context, c client.Client, taskQueue string, req workflow.ExtractionRequest) (*domain.RunResult, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "charstates-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, WorkflowName, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start extraction workflow: %w", err)
	}

	var res domain.RunResult
	if err := run.Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("extraction workflow %s failed: %w", run.GetID(), err)
	}
	return &res, nil
}
