package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/report"
	"github.com/sells-group/cao-extract/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted records to one Excel workbook per flow",
	Long:  "Writes extracted_data_<flow>.xlsx to the reports directory: one row per document, one column per field, not-found values left blank.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
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

		st := store.NewFileStore(cfg.Paths.Outputs)
		for _, flow := range flows {
			path, n, err := exportFlow(ctx, st, fields, flow, cfg.Paths.Reports, cfg.Compare.IDColumn)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s: %d records -> %s\n", flow, n, path)
		}
		return nil
	},
}

// exportFlow writes the records workbook for flow and returns its path and
// row count.
func exportFlow(ctx context.Context, st store.RecordStore, fields *model.FieldSet, flow model.Flow, reportsDir, idColumn string) (string, int, error) {
	records, err := readRecords(ctx, st, flow)
	if err != nil {
		return "", 0, eris.Wrapf(err, "export %s", flow)
	}
	if idColumn == "" {
		idColumn = "document_id"
	}
	path := report.RecordsPath(reportsDir, flow)
	if err := report.WriteRecordsXLSX(path, idColumn, records, fields); err != nil {
		return "", 0, err
	}
	zap.L().Info("records exported",
		zap.String("flow", string(flow)),
		zap.Int("records", len(records)),
		zap.String("path", path),
	)
	return path, len(records), nil
}

func init() {
	exportCmd.Flags().String("flow", "both", "flow to export (old, new or both)")
	rootCmd.AddCommand(exportCmd)
}
