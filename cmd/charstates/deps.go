package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ahrav/go-charstates/internal/config"
	"github.com/ahrav/go-charstates/internal/llm"
	"github.com/ahrav/go-charstates/internal/llm/circuitbreaker"
	"github.com/ahrav/go-charstates/internal/llm/fake"
	"github.com/ahrav/go-charstates/internal/llm/ratelimit"
	"github.com/ahrav/go-charstates/internal/metrics"
	"github.com/ahrav/go-charstates/internal/orchestrator"
	"github.com/ahrav/go-charstates/internal/prompt"
)

const (
	metricsShutdownGrace = 5 * time.Second
	cacheCleanupTimeout  = 30 * time.Second
)

var errMissingAPIKey = errors.New("no Gemini API key: set provider.api_key or GEMINI_API_KEY, or use --dry-run")

// deps are the long-lived collaborators shared by the run and worker
// commands.
type deps struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	prompts   *prompt.Builder
	extractor orchestrator.Extractor
	evaluator orchestrator.Evaluator

	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildDeps wires metrics, prompts and the model clients. With dryRun the
// clients are deterministic fakes and no network calls are made.
func buildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*deps, error) {
	d := &deps{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.metrics = metrics.New(reg)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		d.closers = append(d.closers, serveMetrics(addr, reg, logger))
	}

	prompts, err := prompt.New(cfg.Prompts)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	d.prompts = prompts

	if dryRun {
		logger.Info("dry run: using scripted clients")
		d.extractor = &fake.Extractor{}
		d.evaluator = &fake.Evaluator{}
		return d, nil
	}

	if err := d.buildClient(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deps) buildClient(ctx context.Context) error {
	cfg := d.cfg
	if cfg.Provider.APIKey == "" {
		return errMissingAPIKey
	}

	limiter, err := ratelimit.New(cfg.RateLimit, ratelimit.WithLogger(d.logger), ratelimit.WithMetrics(d.metrics))
	if err != nil {
		return fmt.Errorf("creating rate limiter: %w", err)
	}
	d.closers = append(d.closers, limiter.Stop)

	breakers, err := circuitbreaker.New(cfg.CircuitBreaker, circuitbreaker.WithLogger(d.logger), circuitbreaker.WithMetrics(d.metrics))
	if err != nil {
		return fmt.Errorf("creating circuit breakers: %w", err)
	}

	clientCfg, err := cfg.ClientConfig(d.prompts.System())
	if err != nil {
		return err
	}
	if clientCfg.Context, err = readContext(cfg.Context, clientCfg.Context.Mode); err != nil {
		return err
	}

	client, err := llm.NewClient(ctx, clientCfg, cfg.ProviderSettings(),
		llm.WithLogger(d.logger),
		llm.WithMetrics(d.metrics),
		llm.WithMiddleware(limiter.Middleware(), breakers.Middleware()),
	)
	if err != nil {
		return fmt.Errorf("creating LLM client: %w", err)
	}
	d.closers = append(d.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheCleanupTimeout)
		defer cancel()
		client.Close(ctx)
	})

	d.logger.Info("LLM client ready",
		"extraction_model", clientCfg.ExtractionModel,
		"evaluation_model", clientCfg.EvaluationModel,
		"context_mode", client.Mode().String(),
		"rate_limit_degraded", limiter.Degraded())
	d.extractor = client
	d.evaluator = client
	return nil
}

// readContext loads the source document for the configured context mode.
func readContext(cc config.ContextConfig, mode llm.ContextMode) (llm.ContextSource, error) {
	src := llm.ContextSource{Mode: mode}
	if mode == llm.ContextNone {
		return src, nil
	}

	data, err := os.ReadFile(cc.File)
	if err != nil {
		return src, fmt.Errorf("reading context file: %w", err)
	}
	switch mode {
	case llm.ContextInlineText:
		src.Text = string(data)
	case llm.ContextUploadedFile:
		src.Data = data
		src.DisplayName = filepath.Base(cc.File)
		src.MIMEType = cc.MIMEType
		if src.MIMEType == "" {
			src.MIMEType = mime.TypeByExtension(filepath.Ext(cc.File))
		}
		if src.MIMEType == "" {
			src.MIMEType = http.DetectContentType(data)
		}
	}
	return src, nil
}

// serveMetrics exposes reg on addr/metrics and returns a shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
}
