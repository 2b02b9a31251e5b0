package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/remodel-labs/remodel/internal/catalog"
	"github.com/remodel-labs/remodel/internal/cli/config"
	"github.com/remodel-labs/remodel/internal/engine"
)

// CommandContext bundles what most commands need.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Engine *engine.Engine
}

// NewCommandContext builds a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	return &CommandContext{
		Cfg:    cfg,
		Logger: logger,
		Engine: engine.New(logger, cfg.BackupDir),
	}, nil
}

// getConfig returns the current configuration, falling back to environment
// variables so commands stay usable in tests that bypass the root command.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		ModelDir:     getEnvOrDefault("REMODEL_MODEL_DIR", config.DefaultModelDir),
		BackupDir:    os.Getenv("REMODEL_BACKUP_DIR"),
		CatalogPath:  getEnvOrDefault("REMODEL_CATALOG_PATH", config.DefaultCatalogFile),
		Verbose:      os.Getenv("REMODEL_VERBOSE") == "true",
		OutputFormat: getEnvOrDefault("REMODEL_OUTPUT", config.DefaultOutput),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// openCatalog opens (and migrates) the configured catalog database.
func openCatalog(cfg *config.Config) (*catalog.Store, error) {
	dir := filepath.Dir(cfg.CatalogPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	store := catalog.NewStore()
	if err := store.Open(cfg.CatalogPath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// logOperation records a committed batch in the catalog. Catalog failures
// are logged, never fatal: the engine does not depend on the catalog.
func logOperation(ctx *CommandContext, res *engine.Result) {
	store, err := openCatalog(ctx.Cfg)
	if err != nil {
		ctx.Logger.Warn("catalog unavailable, operation not logged", "error", err)
		return
	}
	defer store.Close()
	if err := store.LogOperation(catalog.Operation{
		ID:          res.OperationID,
		Label:       res.Label,
		ModelRoot:   ctx.Cfg.ModelDir,
		SnapshotDir: res.SnapshotDir,
		Files:       res.ChangedFiles,
		CreatedAt:   time.Now(),
	}); err != nil {
		ctx.Logger.Warn("failed to log operation", "error", err)
	}
}
