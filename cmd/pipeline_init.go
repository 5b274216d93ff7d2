package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/config"
	"github.com/sells-group/cao-extract/internal/cost"
	"github.com/sells-group/cao-extract/internal/extract"
	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/llm"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/monitoring"
	"github.com/sells-group/cao-extract/internal/ocr"
	"github.com/sells-group/cao-extract/internal/pipeline"
	"github.com/sells-group/cao-extract/internal/resilience"
	"github.com/sells-group/cao-extract/internal/source"
	"github.com/sells-group/cao-extract/internal/store"
)

// pipelineEnv holds everything the extract command needs for one batch.
type pipelineEnv struct {
	Flow        model.Flow
	Fields      *model.FieldSet
	Monitor     *monitoring.Monitor
	Coordinator *pipeline.Coordinator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Monitor != nil {
		if err := pe.Monitor.Close(); err != nil {
			zap.L().Warn("close performance log", zap.Error(err))
		}
	}
}

// initPipeline validates configuration, checks the environment and builds
// the coordinator. Callers should defer env.Close().
func initPipeline(_ context.Context, opts pipeline.Options) (*pipelineEnv, error) {
	if err := cfg.Validate("extract"); err != nil {
		return nil, err
	}
	if err := preflight(cfg); err != nil {
		return nil, err
	}

	fields, err := fieldspec.Load(cfg.Fields.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load field schema")
	}
	prompts, err := extract.LoadPrompts(cfg.Prompts.ContextPath, cfg.Prompts.MappingPath)
	if err != nil {
		return nil, eris.Wrap(err, "load prompts")
	}

	completer, err := llm.New(llm.Config{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.Model(),
		APIKey:            cfg.APIKey(),
		BaseURL:           cfg.BaseURL(),
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		RequestTimeout:    time.Duration(cfg.LLM.RequestTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	mon, err := monitoring.Open(cfg.Monitor.Driver, cfg.EventLogPath(), monitoring.Options{
		Window:      time.Duration(cfg.Monitor.WindowMinutes) * time.Minute,
		SummaryPath: cfg.SummaryPath(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "open performance log")
	}

	retry := resilience.WithClassBackoff(resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	), cfg.Retry.ClassBackoffMs)
	retry.OnRetry = resilience.RetryLogger(cfg.LLM.Provider, "complete")

	temperature := cfg.LLM.Temperature
	llmOpts := extract.Options{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: &temperature,
		CacheSystem: cfg.LLM.CacheSystemPrompt,
		Retry:       retry,
		Observer:    pipeline.AttemptObserver(mon, opts.Flow, cost.NewCalculator(pricing(cfg.Pricing)), opts.Shard),
	}

	coord := pipeline.New(pipeline.Deps{
		Source:  source.NewDirSource(cfg.Paths.Documents, ocr.NewExtractor(cfg.OCR)),
		Context: extract.NewContextExtractor(completer, prompts, cfg.Pipeline.Categories, cfg.LLM.MaxInputChars, llmOpts),
		Mapper:  extract.NewMapper(completer, prompts, llmOpts),
		Store:   store.NewFileStore(cfg.Paths.Outputs),
		Monitor: mon,
		Fields:  fields,
	}, opts)

	zap.L().Info("pipeline initialized",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", completer.Model()),
		zap.String("flow", string(opts.Flow)),
		zap.Int("fields", fields.Len()),
		zap.String("run_id", mon.RunID()),
	)

	return &pipelineEnv{
		Flow:        opts.Flow,
		Fields:      fields,
		Monitor:     mon,
		Coordinator: coord,
	}, nil
}

// preflight fails fast on an unusable environment before any API call.
func preflight(c *config.Config) error {
	info, err := os.Stat(c.Paths.Documents)
	if err != nil {
		return eris.Wrap(err, "preflight: documents directory")
	}
	if !info.IsDir() {
		return eris.Errorf("preflight: %s is not a directory", c.Paths.Documents)
	}
	for _, dir := range []string{c.Paths.Outputs, c.Paths.Logs} {
		if err := store.CheckWritable(dir); err != nil {
			return eris.Wrap(err, "preflight")
		}
	}
	return nil
}

// pricing overlays configured model prices on the built-in rates.
func pricing(p config.PricingConfig) cost.Rates {
	overrides := make(map[string]cost.ModelRate, len(p.Models))
	for name, m := range p.Models {
		overrides[name] = cost.ModelRate{
			Input:         m.Input,
			Output:        m.Output,
			CacheWriteMul: m.CacheWriteMul,
			CacheReadMul:  m.CacheReadMul,
		}
	}
	return cost.Merge(overrides)
}
