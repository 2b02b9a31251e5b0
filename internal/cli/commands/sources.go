package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/remodel-labs/remodel/internal/migrate"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// NewSourcesCommand creates the sources command.
func NewSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the model's data sources",
		Long: `Group tables by the source kind and connection parameters detected in
their partition source steps.`,
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
			groups := migrate.DetectSources(model)

			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), groups)
			}
			tw := newTable(cmd.OutOrStdout(), "KIND", "CONNECTION", "TABLES")
			for _, g := range groups {
				tw.AppendRow([]any{g.Kind, g.Connection, strings.Join(g.Tables, ", ")})
			}
			tw.Render()
			return nil
		},
	}
}
