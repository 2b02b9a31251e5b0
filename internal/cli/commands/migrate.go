package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/remodel-labs/remodel/internal/migrate"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	var (
		kind       string
		params     []string
		tables     []string
		columnMap  string
		tableNames []string
		preview    bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Retarget tables to a different data source",
		Long: `Replace the source step of each selected table's query pipeline with an
access call for the target source kind. Every downstream transformation
step is preserved byte for byte. Source-column remappings are never
inferred; supply them explicitly with --column-map.`,
		Example: `  # Move every table to a lakehouse
  remodel migrate --kind lakehouse --param workspaceId=W1 --param lakehouseId=L1

  # Move two tables to SQL Server, renaming one backend object
  remodel migrate --kind sqlserver --param server=sql01 --param database=dwh \
      --table Sales --table Customer --table-name Sales=FactSales

  # Preview with a source-column remapping file
  remodel migrate --kind snowflake --param account=acme --param warehouse=wh \
      --param database=DWH --param schema=PUBLIC --column-map map.yaml --preview`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if err := ctx.Cfg.ValidateModelDir(); err != nil {
				return err
			}

			target := migrate.Target{
				Kind:       kind,
				Params:     map[string]string{},
				TableNames: map[string]string{},
			}
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid --param %q (expected key=value)", p)
				}
				target.Params[k] = v
			}
			for _, tn := range tableNames {
				k, v, ok := strings.Cut(tn, "=")
				if !ok {
					return fmt.Errorf("invalid --table-name %q (expected table=object)", tn)
				}
				target.TableNames[k] = v
			}
			if columnMap != "" {
				m, err := loadColumnMap(columnMap)
				if err != nil {
					return err
				}
				target.ColumnMaps = m
			}

			if preview {
				diffs, err := ctx.Engine.PreviewMigrate(ctx.Cfg.ModelDir, tables, target)
				if err != nil {
					return err
				}
				renderDiffs(cmd.OutOrStdout(), diffs)
				return nil
			}

			res, err := ctx.Engine.Migrate(ctx.Cfg.ModelDir, tables, target)
			if err != nil {
				return err
			}
			logOperation(ctx, res)

			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d files to %s, snapshot %s\n",
				len(res.ChangedFiles), kind, res.SnapshotDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", fmt.Sprintf("Target source kind (%s)", strings.Join(migrate.Kinds(), "|")))
	cmd.Flags().StringArrayVar(&params, "param", nil, "Connection parameter, key=value (repeatable)")
	cmd.Flags().StringArrayVar(&tables, "table", nil, "Table to migrate (repeatable; default: all)")
	cmd.Flags().StringArrayVar(&tableNames, "table-name", nil, "Backend object override, table=object (repeatable)")
	cmd.Flags().StringVar(&columnMap, "column-map", "", "YAML file mapping source columns per table")
	cmd.Flags().BoolVar(&preview, "preview", false, "Show the rewritten files without writing")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

// loadColumnMap reads a YAML file of the shape {table: {old: new}}.
func loadColumnMap(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read column map: %w", err)
	}
	var m map[string]map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid column map %s: %w", path, err)
	}
	return m, nil
}
