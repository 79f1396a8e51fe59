package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "qsub", cfg.SubmitCommand)
	assert.Equal(t, ".sh", cfg.JobscriptExt)
	assert.Equal(t, ".txt", cfg.VariableFileExt)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"),
		[]byte("submit_command: sbatch\njobscript_ext: .slurm\n"), 0o644))

	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvSubmitCommand, "bsub")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, ".slurm", cfg.JobscriptExt)

	// Environment beats the config file.
	assert.Equal(t, "bsub", cfg.SubmitCommand)
}

func TestConfig_Paths(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "/work/.jobflow", cfg.DataDirFor("/work"))
	assert.Equal(t, "/work/.jobflow/workflows.db", cfg.StorePath("/work"))

	cfg.DataDir = "/shared/state"
	assert.Equal(t, "/shared/state", cfg.DataDirFor("/work"))
}
