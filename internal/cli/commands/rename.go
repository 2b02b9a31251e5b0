package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remodel-labs/remodel/internal/rename"
)

// NewRenameCommand creates the rename command with its table and column
// subcommands.
func NewRenameCommand() *cobra.Command {
	var preview, skipBackend bool

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename tables or columns across the whole model",
		Long: `Rename tables or columns and rewrite every reference: definition files,
relationship endpoints, formula expressions, query pipelines and security
rules. The batch is validated for collisions first, snapshotted before any
write, and rolled back on failure. Swaps (A to B while B to A) are safe.`,
	}

	tableCmd := &cobra.Command{
		Use:   "table <old> <new> [<old> <new> ...]",
		Short: "Rename one or more tables",
		Example: `  # Single rename
  remodel rename table Orders Sales

  # Swap two tables in one atomic batch
  remodel rename table Orders Sales Sales Orders

  # Preview without writing
  remodel rename table Orders Sales --preview`,
		Args: evenArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ops []rename.Op
			for i := 0; i < len(args); i += 2 {
				ops = append(ops, rename.Op{Kind: rename.OpTable, Old: args[i], New: args[i+1]})
			}
			return runRename(cmd, ops, preview, skipBackend)
		},
	}

	columnCmd := &cobra.Command{
		Use:   "column <table> <old> <new> [<old> <new> ...]",
		Short: "Rename one or more columns of a table",
		Example: `  # Rename a column, including its source references
  remodel rename column Customer Id CustomerId

  # Keep the backend source name untouched
  remodel rename column Customer Id CustomerId --skip-backend`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 || (len(args)-1)%2 != 0 {
				return fmt.Errorf("expected a table followed by old/new name pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			table := args[0]
			var ops []rename.Op
			for i := 1; i < len(args); i += 2 {
				ops = append(ops, rename.Op{Kind: rename.OpColumn, Table: table, Old: args[i], New: args[i+1]})
			}
			return runRename(cmd, ops, preview, skipBackend)
		},
	}

	cmd.PersistentFlags().BoolVar(&preview, "preview", false, "Show the rewritten files without writing")
	cmd.PersistentFlags().BoolVar(&skipBackend, "skip-backend", false, "Leave query-language source references untouched")
	cmd.AddCommand(tableCmd, columnCmd)
	return cmd
}

func evenArgs(_ *cobra.Command, args []string) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return fmt.Errorf("expected old/new name pairs")
	}
	return nil
}

func runRename(cmd *cobra.Command, ops []rename.Op, preview, skipBackend bool) error {
	ctx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if err := ctx.Cfg.ValidateModelDir(); err != nil {
		return err
	}
	opts := rename.Options{SkipBackend: skipBackend}

	if preview {
		diffs, err := ctx.Engine.PreviewRename(ctx.Cfg.ModelDir, ops, opts)
		if err != nil {
			return err
		}
		renderDiffs(cmd.OutOrStdout(), diffs)
		return nil
	}

	res, err := ctx.Engine.Rename(ctx.Cfg.ModelDir, ops, opts)
	if err != nil {
		return err
	}
	logOperation(ctx, res)

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), res)
	}
	out := cmd.OutOrStdout()
	for _, op := range ops {
		fmt.Fprintf(out, "renamed %s\n", op)
	}
	fmt.Fprintf(out, "%d files changed, snapshot %s\n", len(res.ChangedFiles), res.SnapshotDir)
	if res.SkippedBackend > 0 {
		fmt.Fprintf(out, "%d backend reference sites left untouched\n", res.SkippedBackend)
	}
	return nil
}
