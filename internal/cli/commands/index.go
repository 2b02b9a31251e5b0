package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remodel-labs/remodel/internal/catalog"
)

// NewIndexCommand creates the index command.
func NewIndexCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "index [workspace]",
		Short: "Index models into the local catalog",
		Long: `Parse and resolve every model under the workspace (or the configured
model directory) and save the results into the catalog database for
search. With --watch, keep re-indexing as definition files change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			workspace := ctx.Cfg.ModelDir
			if len(args) == 1 {
				workspace = args[0]
			}

			roots, err := catalog.DiscoverModels(workspace)
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				return fmt.Errorf("no model directories found under %s", workspace)
			}

			store, err := openCatalog(ctx.Cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := catalog.IndexAll(cmd.Context(), store, roots, ctx.Logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d models into %s\n", len(roots), ctx.Cfg.CatalogPath)

			if !watch {
				return nil
			}
			if len(roots) != 1 {
				return fmt.Errorf("--watch requires a single model directory")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s for changes (ctrl-c to stop)\n", roots[0])
			return catalog.Watch(cmd.Context(), store, roots[0], ctx.Logger)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep watching and re-indexing on change")
	return cmd
}

// NewSearchCommand creates the search command.
func NewSearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed tables, columns and measures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			store, err := openCatalog(ctx.Cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			hits, err := store.Search(args[0])
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), hits)
			}
			tw := newTable(cmd.OutOrStdout(), "MODEL", "KIND", "TABLE", "NAME", "FILE")
			for _, h := range hits {
				tw.AppendRow([]any{h.Model, h.Kind, h.Table, h.Name, h.File})
			}
			tw.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "%d results\n", len(hits))
			return nil
		},
	}
}
