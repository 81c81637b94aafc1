package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-charstates/internal/config"
	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/nexus"
	"github.com/ahrav/go-charstates/internal/orchestrator"
	"github.com/ahrav/go-charstates/internal/worker"
	"github.com/ahrav/go-charstates/internal/workflow"
	"github.com/ahrav/go-charstates/pkg/events"
)

// Flags for the run command.
var (
	runTotal       int
	runZeroIndexed bool
	runWorkers     int
	runContextFile string
	runContextMode string
	runNexusPath   string
	runOutPath     string
	runDryRun      bool
	runTemporal    bool
	runJSON        bool
)

var errNoTotal = errors.New("--total must be greater than 0")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract and evaluate every character of a matrix",
	Long: `run processes character indices [start, start+total) in parallel.
Each index is extracted, scored by the judge model and retried until it is
accepted or its retry budget runs out. Accepted characters are printed and,
with --nexus, written into a copy of the NEXUS file named <input>_KEY.nex
unless --out is given.

With --temporal the run is submitted as a workflow to the configured task
queue; a "charstates worker" must be serving that queue.`,
	Args: cobra.NoArgs,
	RunE: runExtraction,
}

func init() {
	f := runCmd.Flags()
	f.IntVarP(&runTotal, "total", "n", 0, "number of characters in the matrix")
	f.BoolVar(&runZeroIndexed, "zero-indexed", false, "number characters from 0 instead of 1")
	f.IntVarP(&runWorkers, "workers", "w", 0, "parallel tasks (0 selects min(32, NumCPU+4))")
	f.StringVar(&runContextFile, "context", "", "source document supplied to both models")
	f.StringVar(&runContextMode, "context-mode", "", "context mode: none, inline_text, uploaded_file")
	f.StringVar(&runNexusPath, "nexus", "", "NEXUS file whose CHARSTATELABELS block is rewritten")
	f.StringVarP(&runOutPath, "out", "o", "", "output NEXUS path (default <input>_KEY.nex)")
	f.BoolVar(&runDryRun, "dry-run", false, "use scripted clients instead of the Gemini API")
	f.BoolVar(&runTemporal, "temporal", false, "submit the run to a Temporal worker")
	f.BoolVar(&runJSON, "json", false, "print the run result as JSON on stdout")
	_ = runCmd.MarkFlagRequired("total")
}

func runOverrides(cmd *cobra.Command) map[string]any {
	flags := cmd.Flags()
	overrides := map[string]any{}
	if flags.Changed("zero-indexed") {
		overrides["indexing.zero_indexed"] = runZeroIndexed
	}
	if flags.Changed("workers") {
		overrides["workers"] = runWorkers
	}
	if flags.Changed("context") {
		overrides["context.file"] = runContextFile
		if !flags.Changed("context-mode") {
			overrides["context.mode"] = "uploaded_file"
		}
	}
	if flags.Changed("context-mode") {
		overrides["context.mode"] = runContextMode
	}
	return overrides
}

func runExtraction(cmd *cobra.Command, _ []string) error {
	if runTotal <= 0 {
		return errNoTotal
	}
	ctx := cmd.Context()

	cfg, logger, err := loadConfig(cmd, runOverrides(cmd))
	if err != nil {
		return err
	}

	rng, err := domain.NewItemRange(runTotal, cfg.IndexingMode())
	if err != nil {
		return err
	}

	var doc string
	if runNexusPath != "" {
		data, err := os.ReadFile(runNexusPath)
		if err != nil {
			return fmt.Errorf("reading NEXUS file: %w", err)
		}
		doc = string(data)
	}

	var res *domain.RunResult
	if runTemporal {
		res, err = orchestrator.Instrument(ctx, logger, "submit_workflow", func(ctx context.Context) (*domain.RunResult, error) {
			return submitWorkflow(ctx, cfg, logger, rng)
		})
	} else {
		res, err = runLocal(ctx, cfg, logger, rng)
	}
	if err != nil {
		return err
	}

	if doc != "" {
		if err := writeNexus(ctx, logger, doc, res); err != nil {
			return err
		}
	}

	if runJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printSummary(cmd.OutOrStdout(), res)
	return nil
}

func runLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger, rng domain.ItemRange) (*domain.RunResult, error) {
	d, err := orchestrator.Instrument(ctx, logger, "build_clients", func(ctx context.Context) (*deps, error) {
		return buildDeps(ctx, cfg, logger, runDryRun)
	})
	if err != nil {
		return nil, err
	}
	defer d.Close()

	orch, err := orchestrator.New(cfg.OrchestratorConfig(), d.extractor, d.evaluator,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(d.metrics),
		orchestrator.WithPrompts(d.prompts),
		orchestrator.WithEventSink(events.NewLogSink(logger, slog.LevelDebug)),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("starting run", "range", rng.String(), "workers", orch.Workers(), "dry_run", runDryRun)
	return orchestrator.Instrument(ctx, logger, "process_characters", func(ctx context.Context) (*domain.RunResult, error) {
		return orch.Run(ctx, rng, progressPrinter(os.Stderr))
	})
}

func submitWorkflow(ctx context.Context, cfg *config.Config, logger *slog.Logger, rng domain.ItemRange) (*domain.RunResult, error) {
	c, err := worker.Dial(cfg.Temporal, logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return worker.Execute(ctx, c, cfg.Temporal.TaskQueue, workflow.ExtractionRequest{
		Range:       rng,
		MaxInFlight: cfg.Workers,
	})
}

func writeNexus(ctx context.Context, logger *slog.Logger, doc string, res *domain.RunResult) error {
	out := runOutPath
	if out == "" {
		out = filepath.Join(filepath.Dir(runNexusPath), nexus.KeyFileName(runNexusPath))
	}
	_, err := orchestrator.Instrument(ctx, logger, "write_nexus", func(context.Context) (string, error) {
		patched, err := nexus.Update(doc, res)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(out, []byte(patched), 0o644); err != nil {
			return "", fmt.Errorf("writing NEXUS file: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	logger.Info("NEXUS file written", "path", out, "characters", len(res.Accepted))
	return nil
}

// progressPrinter renders the completed fraction on one terminal line.
func progressPrinter(w io.Writer) orchestrator.ProgressFunc {
	return func(fraction float64) {
		fmt.Fprintf(w, "\rprogress: %5.1f%%", fraction*100)
		if fraction >= 1 {
			fmt.Fprintln(w)
		}
	}
}

func printSummary(w io.Writer, res *domain.RunResult) {
	fmt.Fprintf(w, "run %s finished in %s\n", res.RunID, res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "accepted: %d/%d\n", len(res.Accepted), res.Range.Len())
	for _, rec := range res.Records() {
		fmt.Fprintf(w, "  %d %s [%s] score=%d\n", rec.Index, rec.Character, strings.Join(rec.States, ", "), rec.Score)
	}
	if len(res.Failed) == 0 {
		return
	}
	fmt.Fprintf(w, "failed: %d\n", len(res.Failed))
	for _, o := range res.Outcomes {
		if o.IsAccepted() {
			continue
		}
		fmt.Fprintf(w, "  %d %s", o.Index, o.Reason)
		if o.LastError != "" {
			fmt.Fprintf(w, ": %s", o.LastError)
		}
		fmt.Fprintln(w)
	}
}

func printJSON(w io.Writer, res *domain.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*domain.RunResult
		Records []domain.CharacterRecord `json:"records"`
	}{res, res.Records()})
}
