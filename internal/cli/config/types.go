// Package config provides configuration management for the remodel CLI.
package config

// Config holds all CLI configuration options.
type Config struct {
	ModelDir     string `koanf:"model_dir"`
	BackupDir    string `koanf:"backup_dir"`
	CatalogPath  string `koanf:"catalog_path"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`
}

// Default configuration values.
const (
	DefaultModelDir    = "."
	DefaultCatalogFile = ".remodel/catalog.db"
	DefaultOutput      = "text" // text | json
)
