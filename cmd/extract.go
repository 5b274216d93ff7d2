package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/monitoring"
	"github.com/sells-group/cao-extract/internal/pipeline"
)

var (
	extractFlow        string
	extractLimit       int
	extractConcurrency int
	extractShard       string
	extractOnly        []string
	extractSkipFailed  bool
	extractDebug       bool
	extractTarget      int
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run both extraction stages over the document corpus",
	Long:  "Processes every document without a persisted record for the chosen flow. Safe to interrupt and re-run; finished documents are skipped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := extractOptions(cmd)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, opts)
		if err != nil {
			return err
		}
		defer env.Close()

		checkCtx, stopChecker := context.WithCancel(context.WithoutCancel(ctx))
		checker := monitoring.NewChecker(env.Monitor, monitoring.NewAlerter(cfg.Monitor), cfg.Monitor, opts.Flow, opts.TargetTotal)
		checkerDone := make(chan struct{})
		go func() {
			defer close(checkerDone)
			checker.Run(checkCtx)
		}()

		res, runErr := env.Coordinator.Run(ctx)
		stopChecker()
		<-checkerDone

		summary, err := env.Monitor.WriteSummary(context.WithoutCancel(ctx))
		if err != nil {
			zap.L().Warn("write performance summary", zap.Error(err))
		}
		if runErr != nil {
			return eris.Wrap(runErr, "extract")
		}

		formatRunResult(cmd.OutOrStdout(), res, summary)
		if res.Canceled {
			return eris.New("extract: interrupted; re-run to resume")
		}
		return nil
	},
}

// extractOptions merges command flags over the pipeline configuration.
func extractOptions(cmd *cobra.Command) (pipeline.Options, error) {
	flags := cmd.Flags()
	p := cfg.Pipeline
	if flags.Changed("flow") {
		p.Flow = extractFlow
	}
	if flags.Changed("limit") {
		p.Limit = extractLimit
	}
	if flags.Changed("concurrency") {
		p.Concurrency = extractConcurrency
	}
	if flags.Changed("skip-failed") {
		p.SkipFailed = extractSkipFailed
	}
	if flags.Changed("debug-context") {
		p.DebugContext = extractDebug
	}
	if flags.Changed("target") {
		p.TargetTotal = extractTarget
	}
	cfg.Pipeline = p

	flow, err := model.ParseFlow(p.Flow)
	if err != nil {
		return pipeline.Options{}, err
	}
	shard, err := pipeline.ParseShard(extractShard)
	if err != nil {
		return pipeline.Options{}, err
	}

	return pipeline.Options{
		Flow:          flow,
		Concurrency:   p.Concurrency,
		Limit:         p.Limit,
		Shard:         shard,
		Only:          extractOnly,
		SkipFailed:    p.SkipFailed,
		DebugContext:  p.DebugContext,
		Pause:         time.Duration(p.PauseBetweenMs) * time.Millisecond,
		ProgressEvery: p.ProgressEvery,
		TargetTotal:   p.TargetTotal,
		DrainTimeout:  time.Duration(p.DrainTimeoutSecs) * time.Second,
	}, nil
}

func formatRunResult(out io.Writer, res *pipeline.Result, s model.PerformanceSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Selected:\t%d\n", res.Selected)
	_, _ = fmt.Fprintf(w, "Skipped (done):\t%d\n", res.Skipped)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", res.Succeeded)
	_, _ = fmt.Fprintf(w, "Degraded:\t%d\n", res.Degraded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Failed)
	_, _ = fmt.Fprintf(w, "Retry exhausted:\t%d\n", res.Exhausted)
	if n := int64(res.Selected) - res.Processed(); n > 0 {
		_, _ = fmt.Fprintf(w, "Not started:\t%d\n", n)
	}
	if s.Documents > 0 {
		_, _ = fmt.Fprintf(w, "Log success rate:\t%.1f%%\n", s.SuccessRate*100)
		_, _ = fmt.Fprintf(w, "Log cost:\t$%.2f\n", s.CostUSD)
	}
	_ = w.Flush()
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlow, "flow", "new", "output flow (old or new)")
	f.IntVar(&extractLimit, "limit", 0, "max documents to process (0 = all)")
	f.IntVar(&extractConcurrency, "concurrency", 1, "documents processed in parallel")
	f.StringVar(&extractShard, "shard", "", "process only shard i/n of the sorted corpus")
	f.StringSliceVar(&extractOnly, "only", nil, "process only these document ids")
	f.BoolVar(&extractSkipFailed, "skip-failed", false, "skip documents whose last attempt failed")
	f.BoolVar(&extractDebug, "debug-context", false, "persist Stage 1 context next to each record")
	f.IntVar(&extractTarget, "target", 0, "corpus size for progress and ETA (0 = unknown)")
	rootCmd.AddCommand(extractCmd)
}
