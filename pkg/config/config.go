// Package config provides the injected configuration value consumed by the
// submission controller. There is no process-wide configuration state; the
// CLI loads one Config and passes it down.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// EnvDataDir overrides the data-directory root.
	EnvDataDir = "JOBFLOW_DATA_DIR"
	// EnvDatabaseURL selects a DBMS-backed store instead of the SQLite file.
	EnvDatabaseURL = "JOBFLOW_DB_URL"
	// EnvSubmitCommand overrides the scheduler submit command used by the
	// shell bridge.
	EnvSubmitCommand = "JOBFLOW_SUBMIT_CMD"

	configFileName = "config.yml"
	dataDirName    = ".jobflow"
)

// Config carries the filesystem layout and filename knobs. Fields left
// empty in the config file keep their defaults.
type Config struct {
	// DataDir is the root under which per-workflow state (store file,
	// submit directories) is kept. Relative to the working directory
	// unless absolute.
	DataDir string `yaml:"data_dir"`

	// DatabaseURL, when set, points the store at a DBMS instead of the
	// SQLite file inside DataDir.
	DatabaseURL string `yaml:"database_url"`

	// SubmitCommand is the scheduler submit executable for the shell
	// bridge.
	SubmitCommand string `yaml:"submit_command"`

	JobscriptExt    string `yaml:"jobscript_ext"`
	VariableFileExt string `yaml:"variable_file_ext"`
	WorkingDirsExt  string `yaml:"working_dirs_file_ext"`

	// ProfileFilenameFormat is consumed by the external profile parser;
	// it is carried here so one file configures both sides.
	ProfileFilenameFormat string `yaml:"profile_filename_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:               dataDirName,
		SubmitCommand:         "qsub",
		JobscriptExt:          ".sh",
		VariableFileExt:       ".txt",
		WorkingDirsExt:        ".txt",
		ProfileFilenameFormat: "<<order>>.<<name>>.yml",
	}
}

// Load builds the effective configuration: defaults, then the config file
// at the data-dir root if present, then environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}

	path := filepath.Join(cfg.DataDir, configFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Environment wins over the file.
	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}

	if url := os.Getenv(EnvDatabaseURL); url != "" {
		cfg.DatabaseURL = url
	}

	if cmd := os.Getenv(EnvSubmitCommand); cmd != "" {
		cfg.SubmitCommand = cmd
	}

	return cfg, nil
}

// DataDirFor resolves the data directory for a given workflow working
// directory.
func (c Config) DataDirFor(workingDir string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}

	return filepath.Join(workingDir, c.DataDir)
}

// StorePath is the SQLite store file location for a working directory.
// Unused when DatabaseURL is set.
func (c Config) StorePath(workingDir string) string {
	return filepath.Join(c.DataDirFor(workingDir), "workflows.db")
}
