package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remodel-labs/remodel/internal/refs"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// NewRefsCommand creates the refs command.
func NewRefsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs <table> [column]",
		Short: "List every reference site of a table or column",
		Long: `Resolve the model's reference index and list each site where the given
table (or column, scoped to its owning table) occurs, with the file, byte
span, sub-language and occurrence kind.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			index := refs.Resolve(model)

			var sites []refs.Site
			if len(args) == 1 {
				if model.Table(args[0]) == nil {
					return fmt.Errorf("unknown table %q", args[0])
				}
				sites = index.TableSites(args[0])
			} else {
				table := model.Table(args[0])
				if table == nil {
					return fmt.Errorf("unknown table %q", args[0])
				}
				if table.Column(args[1]) == nil {
					return fmt.Errorf("unknown column %q on table %q", args[1], args[0])
				}
				sites = index.ColumnSites(args[0], args[1])
			}

			if jsonOutput() {
				type row struct {
					File     string `json:"file"`
					Start    int    `json:"start"`
					End      int    `json:"end"`
					Language string `json:"language"`
					Kind     string `json:"kind"`
					Backend  bool   `json:"backend,omitempty"`
				}
				rows := make([]row, 0, len(sites))
				for _, s := range sites {
					rows = append(rows, row{
						File: s.File, Start: s.Span.Start, End: s.Span.End,
						Language: s.Lang.String(), Kind: s.Occ.String(), Backend: s.Backend,
					})
				}
				return printJSON(cmd.OutOrStdout(), rows)
			}

			tw := newTable(cmd.OutOrStdout(), "FILE", "SPAN", "LANGUAGE", "OCCURRENCE", "BACKEND")
			for _, s := range sites {
				backend := ""
				if s.Backend {
					backend = "yes"
				}
				tw.AppendRow([]any{
					s.File,
					fmt.Sprintf("[%d,%d)", s.Span.Start, s.Span.End),
					s.Lang.String(),
					s.Occ.String(),
					backend,
				})
			}
			tw.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "%d sites\n", len(sites))
			return nil
		},
	}
	return cmd
}
