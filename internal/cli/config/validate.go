package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/remodel-labs/remodel/pkg/tmd"
)

// Validate checks if the configuration is valid. Directory existence is
// checked separately so help commands work anywhere.
func (c *Config) Validate() error {
	if c.ModelDir == "" {
		return fmt.Errorf("model_dir is required")
	}
	switch c.OutputFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid output format %q (expected text or json)", c.OutputFormat)
	}
	return nil
}

// ValidateModelDir checks that the configured model directory looks like a
// model root.
func (c *Config) ValidateModelDir() error {
	def := filepath.Join(c.ModelDir, filepath.FromSlash(tmd.DefinitionDir))
	if _, err := os.Stat(def); os.IsNotExist(err) {
		return fmt.Errorf("%s is not a model directory (no %s folder)\nHint: use --model-dir to point at a model root", c.ModelDir, tmd.DefinitionDir)
	}
	return nil
}
