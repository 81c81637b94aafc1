package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-charstates/internal/activity"
	"github.com/ahrav/go-charstates/internal/orchestrator"
	"github.com/ahrav/go-charstates/internal/retry"
	"github.com/ahrav/go-charstates/internal/worker"
	baseactivity "github.com/ahrav/go-charstates/pkg/activity"
	"github.com/ahrav/go-charstates/pkg/events"
)

var (
	workerDryRun  bool
	workerWorkers int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve extraction workflows from the Temporal task queue",
	Long: `worker connects to Temporal and executes ExtractionWorkflow runs and their
ProcessItem activities until interrupted. The number of concurrently
executing items is bounded by --workers.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	f := workerCmd.Flags()
	f.BoolVar(&workerDryRun, "dry-run", false, "use scripted clients instead of the Gemini API")
	f.IntVarP(&workerWorkers, "workers", "w", 0, "concurrent item activities (0 selects min(32, NumCPU+4))")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	if cmd.Flags().Changed("workers") {
		overrides["workers"] = workerWorkers
	}
	cfg, logger, err := loadConfig(cmd, overrides)
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx, cfg, logger, workerDryRun)
	if err != nil {
		return err
	}
	defer d.Close()

	policy, err := retry.NewPolicy(cfg.Retry)
	if err != nil {
		return err
	}
	runner, err := orchestrator.NewTaskRunner(d.extractor, d.evaluator, policy,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(d.metrics),
		orchestrator.WithPrompts(d.prompts),
	)
	if err != nil {
		return err
	}

	sink := events.NewLogSink(logger, slog.LevelDebug)
	acts := activity.NewActivities(baseactivity.NewBase(sink, logger), runner, d.metrics)

	c, err := worker.Dial(cfg.Temporal, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	parallel := cfg.Workers
	if parallel == 0 {
		parallel = orchestrator.DefaultWorkers()
	}
	logger.Info("worker starting",
		"host_port", cfg.Temporal.HostPort,
		"namespace", cfg.Temporal.Namespace,
		"task_queue", cfg.Temporal.TaskQueue,
		"max_parallel", parallel)
	return worker.Run(ctx, c, cfg.Temporal.TaskQueue, parallel, acts)
}
