package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.NTrials)
	assert.Equal(t, 5, cfg.CVFolds)
	assert.Equal(t, 0.2, cfg.TestSize)
	assert.Equal(t, int64(42), cfg.RandomSeed)
	assert.Equal(t, "files", cfg.OutputDir)
	assert.Equal(t, "CLASSICAL_TRAINING_RESULT_QUEUE", cfg.ResultTopic)
	assert.Equal(t, ChannelNone, cfg.MessageChannels)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("N_TRIALS: 10\nOUTPUT_DIR: /tmp/models\nSAMPLER: random\n"), 0o600))

	t.Setenv("N_TRIALS", "7")
	t.Setenv("MESSAGE_CHANNELS", "slack")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.NTrials, "environment wins over file")
	assert.Equal(t, "/tmp/models", cfg.OutputDir)
	assert.Equal(t, "random", cfg.Sampler)
	assert.Equal(t, ChannelSlack, cfg.MessageChannels)
}

func TestLoadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"CV_FOLDS": 3, "TEST_SIZE": 0.25}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.CVFolds)
	assert.Equal(t, 0.25, cfg.TestSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SAMPLER", "grid")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Sampler")
}

func TestLoadRequiresBucketWithNATS(t *testing.T) {
	t.Setenv("NATS_URL", "nats://localhost:4222")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("S3_BUCKET_NAME", "datasets")
	_, err = Load("")
	require.NoError(t, err)
}

func TestSearchUpwardsForFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "marker.env"), nil, 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	found, err := SearchUpwardsForFile("marker.env")
	require.NoError(t, err)
	assert.Equal(t, "marker.env", filepath.Base(found))

	_, err = SearchUpwardsForFile("definitely-missing.env")
	assert.ErrorIs(t, err, ErrFileNotFound)
}
