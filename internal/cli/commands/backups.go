package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remodel-labs/remodel/internal/backup"
)

func backupsDir(ctx *CommandContext) string {
	if ctx.Cfg.BackupDir != "" {
		return ctx.Cfg.BackupDir
	}
	return backup.DefaultDir(ctx.Cfg.ModelDir)
}

// NewBackupsCommand creates the backups command.
func NewBackupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List operation snapshots",
		Long: `List the snapshots taken before each rename or migration, newest first.
Snapshots are retained after commit so any operation can be restored later.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			snaps, err := backup.Scan(backupsDir(ctx))
			if err != nil {
				return err
			}

			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), snaps)
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "LABEL", "MODEL", "CREATED", "FILES", "COMMITTED")
			for _, s := range snaps {
				committed := ""
				if s.Manifest.Committed {
					committed = "yes"
				}
				tw.AppendRow([]any{
					s.Manifest.ID[:8],
					s.Manifest.Label,
					s.Manifest.Model,
					s.Manifest.CreatedAt.Format("2006-01-02 15:04:05"),
					len(s.Manifest.Files),
					committed,
				})
			}
			tw.Render()
			return nil
		},
	}
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore the model from an operation snapshot",
		Long: `Put a snapshot's files back into the model directory, reversing any file
renames the operation performed. The id may be abbreviated to a unique
prefix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if err := ctx.Cfg.ValidateModelDir(); err != nil {
				return err
			}

			dir := backupsDir(ctx)
			snaps, err := backup.Scan(dir)
			if err != nil {
				return err
			}
			var match *backup.Snapshot
			for i := range snaps {
				if strings.HasPrefix(snaps[i].Manifest.ID, args[0]) {
					if match != nil {
						return fmt.Errorf("snapshot id %q is ambiguous", args[0])
					}
					match = &snaps[i]
				}
			}
			if match == nil {
				return fmt.Errorf("no snapshot with id %q under %s", args[0], dir)
			}

			mgr := backup.NewManager(dir, ctx.Logger)
			if err := mgr.Restore(*match, ctx.Cfg.ModelDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d files from snapshot %s (%s)\n",
				len(match.Manifest.Files), match.Manifest.ID[:8], match.Manifest.Label)
			return nil
		},
	}
}
