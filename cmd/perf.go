package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/monitoring"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Inspect extraction performance",
	Long:  "Commands for summarizing the performance log, projecting progress and evaluating alerts.",
}

// -- perf summary --

var perfSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the performance log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mon, err := openMonitor()
		if err != nil {
			return err
		}
		defer mon.Close() //nolint:errcheck

		write, _ := cmd.Flags().GetBool("write")
		asJSON, _ := cmd.Flags().GetBool("json")

		var s model.PerformanceSummary
		if write {
			s, err = mon.WriteSummary(ctx)
		} else {
			s, err = mon.Summary(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "perf summary")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		if s.Documents == 0 {
			fmt.Fprintln(os.Stderr, "No finished documents in the performance log.")
			return nil
		}
		formatSummary(os.Stdout, s)
		return nil
	},
}

// -- perf progress --

var perfProgressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Project completion against a target document count",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mon, err := openMonitor()
		if err != nil {
			return err
		}
		defer mon.Close() //nolint:errcheck

		target, _ := cmd.Flags().GetInt("target")
		if target <= 0 {
			target = cfg.Pipeline.TargetTotal
		}
		if target <= 0 {
			return eris.New("perf progress: --target or pipeline.target_total is required")
		}

		name, _ := cmd.Flags().GetString("flow")
		if !cmd.Flags().Changed("flow") {
			name = cfg.Pipeline.Flow
		}
		flow, err := model.ParseFlow(name)
		if err != nil {
			return err
		}

		p, err := mon.Progress(ctx, flow, target)
		if err != nil {
			return eris.Wrap(err, "perf progress")
		}
		formatProgress(os.Stdout, p)
		return nil
	},
}

// -- perf alerts --

var perfAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate alert thresholds against the performance log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mon, err := openMonitor()
		if err != nil {
			return err
		}
		defer mon.Close() //nolint:errcheck

		s, err := mon.Summary(ctx)
		if err != nil {
			return eris.Wrap(err, "perf alerts")
		}

		alerter := monitoring.NewAlerter(cfg.Monitor)
		alerts := alerter.Evaluate(s)
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts.")
			return nil
		}
		for _, a := range alerts {
			fmt.Printf("[%s] %s: %s\n", a.Severity, a.Type, a.Message)
		}
		if send, _ := cmd.Flags().GetBool("send"); send {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "Sent %d of %d alerts.\n", sent, len(alerts))
		}
		return nil
	},
}

func openMonitor() (*monitoring.Monitor, error) {
	mon, err := monitoring.Open(cfg.Monitor.Driver, cfg.EventLogPath(), monitoring.Options{
		Window:      time.Duration(cfg.Monitor.WindowMinutes) * time.Minute,
		SummaryPath: cfg.SummaryPath(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "open performance log")
	}
	return mon, nil
}

func formatSummary(out io.Writer, s model.PerformanceSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Documents:\t%d\n", s.Documents)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Degraded:\t%d\n", s.Degraded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Retry exhausted:\t%d\n", s.Exhausted)
	_, _ = fmt.Fprintf(w, "Success rate:\t%.1f%%\n", s.SuccessRate*100)
	_, _ = fmt.Fprintf(w, "Attempts / retries:\t%d / %d\n", s.Attempts, s.Retries)
	_, _ = fmt.Fprintf(w, "Duration mean / p50 / p90 / p95:\t%.1fs / %.1fs / %.1fs / %.1fs\n",
		s.MeanSeconds, s.P50Seconds, s.P90Seconds, s.P95Seconds)
	_, _ = fmt.Fprintf(w, "Throughput:\t%.1f docs/h\n", s.ThroughputPerHour)
	_, _ = fmt.Fprintf(w, "Tokens in / out:\t%d / %d\n", s.InputTokens, s.OutputTokens)
	_, _ = fmt.Fprintf(w, "Estimated cost:\t$%.2f\n", s.CostUSD)
	if len(s.ErrorClasses) > 0 {
		classes := make([]string, 0, len(s.ErrorClasses))
		for c := range s.ErrorClasses {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		_, _ = fmt.Fprintln(w, "Errors:")
		for _, c := range classes {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", c, s.ErrorClasses[c])
		}
	}
	if len(s.Slowest) > 0 {
		_, _ = fmt.Fprintln(w, "Slowest:")
		for _, d := range s.Slowest {
			_, _ = fmt.Fprintf(w, "  %s (%s):\t%.1fs %s\n", d.DocumentID, d.Flow, d.Seconds, d.Outcome)
		}
	}
	if s.SkippedLines > 0 {
		_, _ = fmt.Fprintf(w, "Unreadable log lines:\t%d\n", s.SkippedLines)
	}
	_ = w.Flush()
}

func formatProgress(out io.Writer, p model.Progress) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Completed:\t%d of %d (%.1f%%)\n", p.Completed, p.Target, p.Percent)
	_, _ = fmt.Fprintf(w, "Remaining:\t%d\n", p.Remaining)
	if p.Basis == monitoring.BasisNone {
		_, _ = fmt.Fprintln(w, "ETA:\tunknown (no throughput yet)")
	} else {
		_, _ = fmt.Fprintf(w, "Throughput:\t%.1f docs/h (%s)\n", p.ThroughputPerHour, p.Basis)
		_, _ = fmt.Fprintf(w, "ETA:\t%s (in %s)\n", p.ETA.Local().Format("2006-01-02 15:04"), p.EstimatedRemaining)
	}
	_ = w.Flush()
}

func init() {
	perfSummaryCmd.Flags().Bool("write", false, "also write the summary cache file")
	perfSummaryCmd.Flags().Bool("json", false, "print the summary as JSON")
	perfProgressCmd.Flags().Int("target", 0, "expected total document count")
	perfProgressCmd.Flags().String("flow", "new", "flow to project (old or new); defaults to pipeline.flow")
	perfAlertsCmd.Flags().Bool("send", false, "post alerts to the configured webhook")

	perfCmd.AddCommand(perfSummaryCmd, perfProgressCmd, perfAlertsCmd)
	rootCmd.AddCommand(perfCmd)
}
