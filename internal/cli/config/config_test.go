package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remodel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ModelDir != DefaultModelDir {
		t.Errorf("model_dir = %q, want %q", cfg.ModelDir, DefaultModelDir)
	}
	if cfg.CatalogPath != DefaultCatalogFile {
		t.Errorf("catalog_path = %q, want %q", cfg.CatalogPath, DefaultCatalogFile)
	}
	if cfg.OutputFormat != DefaultOutput {
		t.Errorf("output = %q, want %q", cfg.OutputFormat, DefaultOutput)
	}
	if cfg.Verbose {
		t.Error("verbose should default to false")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	path := writeConfigFile(t, "model_dir: /models/contoso\nverbose: true\noutput: json\n")
	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ModelDir != "/models/contoso" {
		t.Errorf("model_dir = %q", cfg.ModelDir)
	}
	if !cfg.Verbose || cfg.OutputFormat != "json" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if GetConfigFileUsed() != path {
		t.Errorf("config file used = %q", GetConfigFileUsed())
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	t.Setenv("REMODEL_MODEL_DIR", "/from/env")
	path := writeConfigFile(t, "model_dir: /from/file\n")

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ModelDir != "/from/env" {
		t.Errorf("model_dir = %q, want env value", cfg.ModelDir)
	}
}

func TestLoadConfig_FlagOverridesEnv(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	t.Setenv("REMODEL_MODEL_DIR", "/from/env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("model-dir", DefaultModelDir, "")
	flags.String("backup-dir", "", "")
	if err := flags.Parse([]string{"--model-dir", "/from/flag"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("", flags)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ModelDir != "/from/flag" {
		t.Errorf("model_dir = %q, want flag value", cfg.ModelDir)
	}
	// Unchanged flags must not mask lower layers with their defaults.
	if cfg.BackupDir != "" {
		t.Errorf("backup_dir = %q, want empty", cfg.BackupDir)
	}
}

func TestLoadConfig_UnchangedFlagKeepsEnvValue(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	t.Setenv("REMODEL_OUTPUT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("output", "o", DefaultOutput, "")
	if err := flags.Parse(nil); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("", flags)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.OutputFormat != "json" {
		t.Errorf("output = %q, want env value to survive default flag", cfg.OutputFormat)
	}
}

func TestLoadConfig_InvalidOutput(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	path := writeConfigFile(t, "output: xml\n")
	_, err := LoadConfig(path, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid output format") {
		t.Fatalf("expected invalid output error, got %v", err)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestConfig_ValidateModelDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{ModelDir: dir}
	if err := cfg.ValidateModelDir(); err == nil {
		t.Error("expected error for directory without definition/")
	}

	if err := os.MkdirAll(filepath.Join(dir, "definition"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidateModelDir(); err != nil {
		t.Errorf("expected valid model directory, got %v", err)
	}
}
