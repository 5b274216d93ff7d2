package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/model"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Show the target field schema",
	Long:  "Loads the field schema (.yaml, .md or .xlsx), reports inferred types and mapping groups, or prints the prompt table or the JSON Schema used to validate mapper replies.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			cfg.Fields.Path = path
		}
		if err := cfg.Validate("fields"); err != nil {
			return err
		}

		fs, err := fieldspec.Load(cfg.Fields.Path)
		if err != nil {
			return eris.Wrap(err, "load field schema")
		}

		if schema, _ := cmd.Flags().GetBool("schema"); schema {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(fieldspec.JSONSchema(fs.Fields()))
		}
		if table, _ := cmd.Flags().GetBool("table"); table {
			fmt.Print(fieldspec.RenderTable(fs.Fields()))
			return nil
		}
		formatFields(os.Stdout, fs)
		return nil
	},
}

func formatFields(out io.Writer, fs *model.FieldSet) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GROUP\tFIELD\tTYPE\tEXAMPLE")
	for _, g := range fs.Groups("(all)") {
		for _, f := range g.Fields {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.Category, f.Name, f.Type, f.Example)
		}
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d fields\n", fs.Len())
}

func init() {
	fieldsCmd.Flags().String("file", "", "field schema file; overrides fields.path")
	fieldsCmd.Flags().Bool("table", false, "print the field table as sent to the model")
	fieldsCmd.Flags().Bool("schema", false, "print the JSON Schema for mapper replies")
	rootCmd.AddCommand(fieldsCmd)
}
