package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/remodel-labs/remodel/internal/migrate"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables of a model",
		Long: `List every table in the model directory with its column and measure
counts and detected data source. Auto-generated calendar tables are hidden
unless --all is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if err := ctx.Cfg.ValidateModelDir(); err != nil {
				return err
			}

			model, err := tmd.Parse(ctx.Cfg.ModelDir)
			if err != nil {
				return err
			}

			sourceOf := make(map[string]migrate.SourceGroup)
			for _, g := range migrate.DetectSources(model) {
				for _, t := range g.Tables {
					sourceOf[strings.ToLower(t)] = g
				}
			}

			type row struct {
				Name     string `json:"name"`
				Hidden   bool   `json:"hidden"`
				Columns  int    `json:"columns"`
				Measures int    `json:"measures"`
				Source   string `json:"source"`
				File     string `json:"file"`
			}
			var rows []row
			for _, t := range model.Tables {
				if !showAll && tmd.IsBuiltinTable(t.Name.Name) {
					continue
				}
				rows = append(rows, row{
					Name:     t.Name.Name,
					Hidden:   t.IsHidden,
					Columns:  len(t.Columns),
					Measures: len(t.Measures),
					Source:   sourceOf[strings.ToLower(t.Name.Name)].Kind,
					File:     t.File,
				})
			}

			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			tw := newTable(cmd.OutOrStdout(), "TABLE", "HIDDEN", "COLUMNS", "MEASURES", "SOURCE", "FILE")
			for _, r := range rows {
				hidden := ""
				if r.Hidden {
					hidden = "yes"
				}
				tw.AppendRow([]any{r.Name, hidden, r.Columns, r.Measures, r.Source, r.File})
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&showAll, "all", false, "Include auto-generated calendar tables")
	return cmd
}
