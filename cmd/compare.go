package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/groundtruth"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/report"
	"github.com/sells-group/cao-extract/internal/scorer"
	"github.com/sells-group/cao-extract/internal/store"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Score extracted records against ground truth",
	Long:  "Compares persisted records of one or both flows with the ground-truth file and writes JSON and Excel reports.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if gt, _ := cmd.Flags().GetString("ground-truth"); gt != "" {
			cfg.Compare.GroundTruth = gt
		}
		if order, _ := cmd.Flags().GetString("date-order"); order != "" {
			cfg.Compare.DateOrder = order
		}
		if err := cfg.Validate("compare"); err != nil {
			return err
		}

		flowArg, _ := cmd.Flags().GetString("flow")
		flows, err := compareFlows(flowArg)
		if err != nil {
			return err
		}

		fields, err := fieldspec.Load(cfg.Fields.Path)
		if err != nil {
			return eris.Wrap(err, "load field schema")
		}
		gt, err := groundtruth.Load(cfg.Compare.GroundTruth, cfg.Compare.IDColumn)
		if err != nil {
			return eris.Wrap(err, "load ground truth")
		}
		zap.L().Info("ground truth loaded", zap.Int("documents", gt.Len()))

		cmp := scorer.New(fields, scorer.DateOrder(cfg.Compare.DateOrder))
		st := store.NewFileStore(cfg.Paths.Outputs)
		for _, flow := range flows {
			r, err := compareFlow(ctx, st, cmp, gt, flow, cfg.Paths.Reports, time.Now().UTC())
			if err != nil {
				return err
			}
			formatQuality(os.Stdout, r)
		}
		return nil
	},
}

// compareFlows expands the --flow argument.
func compareFlows(arg string) ([]model.Flow, error) {
	if arg == "" || arg == "both" {
		return []model.Flow{model.FlowOld, model.FlowNew}, nil
	}
	f, err := model.ParseFlow(arg)
	if err != nil {
		return nil, err
	}
	return []model.Flow{f}, nil
}

// compareFlow scores every persisted record of flow and writes both reports.
// Unreadable records are logged and left out.
func compareFlow(ctx context.Context, st store.RecordStore, cmp *scorer.Comparator, gt *groundtruth.Set, flow model.Flow, reportsDir string, now time.Time) (*model.QualityReport, error) {
	records, err := readRecords(ctx, st, flow)
	if err != nil {
		return nil, eris.Wrapf(err, "compare %s", flow)
	}

	r := cmp.Compare(flow, records, gt)
	r.GeneratedAt = now

	if err := report.WriteJSON(report.Path(reportsDir, flow, ".json"), r); err != nil {
		return nil, err
	}
	if err := report.WriteXLSX(report.Path(reportsDir, flow, ".xlsx"), r); err != nil {
		return nil, err
	}

	zap.L().Info("comparison complete",
		zap.String("flow", string(flow)),
		zap.Int("scored", len(r.Documents)),
		zap.Int("unscored", len(r.Unscored)),
		zap.Float64("micro_score", r.MicroScore),
		zap.Float64("macro_score", r.MacroScore),
	)
	return r, nil
}

// readRecords loads every persisted record of flow, skipping unreadable ones.
func readRecords(ctx context.Context, st store.RecordStore, flow model.Flow) ([]*model.ExtractedRecord, error) {
	ids, err := st.List(ctx, flow)
	if err != nil {
		return nil, err
	}
	records := make([]*model.ExtractedRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := st.Read(ctx, flow, id)
		if err != nil {
			zap.L().Warn("skipping unreadable record",
				zap.String("flow", string(flow)),
				zap.String("document", id),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func formatQuality(out io.Writer, r *model.QualityReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Flow:\t%s\n", r.Flow)
	_, _ = fmt.Fprintf(w, "Documents scored:\t%d\n", len(r.Documents))
	if len(r.Unscored) > 0 {
		_, _ = fmt.Fprintf(w, "Without ground truth:\t%d\n", len(r.Unscored))
	}
	c := r.Totals
	_, _ = fmt.Fprintf(w, "Fields:\t%d match, %d mismatch, %d missing, %d spurious, %d empty\n",
		c.Match, c.Mismatch, c.Missing, c.Spurious, c.Empty)
	_, _ = fmt.Fprintf(w, "Micro score:\t%.1f%%\n", r.MicroScore*100)
	_, _ = fmt.Fprintf(w, "Macro score:\t%.1f%%\n", r.MacroScore*100)
	_, _ = fmt.Fprintf(w, "Precision / recall:\t%.1f%% / %.1f%%\n", r.Precision*100, r.Recall*100)
	_ = w.Flush()
}

func init() {
	compareCmd.Flags().String("flow", "both", "flow to score (old, new or both)")
	compareCmd.Flags().String("ground-truth", "", "ground-truth file (.json or .xlsx); overrides compare.ground_truth")
	compareCmd.Flags().String("date-order", "", "order for ambiguous numeric dates (dmy or mdy)")
	rootCmd.AddCommand(compareCmd)
}
