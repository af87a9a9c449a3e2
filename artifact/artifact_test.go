package artifact

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gidra39/modelselect/estimator"
	"github.com/gidra39/modelselect/types"
)

func fitted(t *testing.T) (estimator.Estimator, [][]float64) {
	t.Helper()
	X := [][]float64{{0, 1}, {1, 0}, {2, 2}, {3, 1}, {4, 5}, {5, 3}}
	y := []float64{1, 2, 4, 5, 9, 8}
	m := &estimator.Ridge{Alpha: 0.5}
	require.NoError(t, m.Fit(X, y))
	return m, X
}

func TestCommitAndLoad(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	model, X := fitted(t)

	meta := Metadata{ModelUUID: "abc", ModelName: "Ridge", Task: types.Regression, FeatureNames: []string{"a", "b"}}
	require.NoError(t, store.Commit(context.Background(), model, meta, []byte(`{"ok":true}`)))

	art, err := store.Load("abc")
	require.NoError(t, err)
	assert.Equal(t, "Ridge", art.Metadata.ModelName)
	assert.NotEmpty(t, art.Metadata.Checksum)
	assert.Equal(t, []string{"a", "b"}, art.Metadata.FeatureNames)

	want, err := model.Predict(X)
	require.NoError(t, err)
	got, err := art.Model.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	report, err := store.ReadReport("abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(report))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files remain")
}

func TestDecodeDetectsTampering(t *testing.T) {
	model, _ := fitted(t)
	data, err := Encode(model, Metadata{ModelUUID: "x"})
	require.NoError(t, err)

	var env envelope
	require.NoError(t, gob.NewDecoder(bytes.NewReader(data)).Decode(&env))
	env.Metadata.Checksum = "deadbeef"
	var tampered bytes.Buffer
	require.NoError(t, gob.NewEncoder(&tampered).Encode(env))

	_, err = Decode(&tampered)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestCommitFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	// A directory squatting on the report path makes the second rename fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "run"+ReportExt), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run"+ReportExt, "child"), nil, 0o600))

	model, _ := fitted(t)
	err = store.Commit(context.Background(), model, Metadata{ModelUUID: "run"}, []byte("{}"))
	assert.ErrorIs(t, err, types.ErrPersistence)

	_, statErr := os.Stat(store.ModelPath("run"))
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommitRequiresID(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	model, _ := fitted(t)
	assert.ErrorIs(t, store.Commit(context.Background(), model, Metadata{}, nil), types.ErrPersistence)
}
