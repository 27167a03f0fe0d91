// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/digest-enricher/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "store")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestObjectLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("PutThenGet", func(t *testing.T) {
		uri, err := store.PutObject(ctx, "aggregation", "2025-01-02.json", "application/json", bytes.NewReader([]byte(`{"items":[]}`)))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "aggregation", "2025-01-02.json"), uri)

		data, err := store.GetObject(ctx, "aggregation", "2025-01-02.json")
		require.NoError(t, err)
		assert.Equal(t, `{"items":[]}`, string(data))
	})

	t.Run("MissingIsNil", func(t *testing.T) {
		data, err := store.GetObject(ctx, "aggregation", "nope.json")
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("DeleteMissingIsNotError", func(t *testing.T) {
		require.NoError(t, store.DeleteObject(ctx, "aggregation", "nope.json"))
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "aggregation", "../../etc/passwd", "", bytes.NewReader([]byte("x")))
		assert.ErrorContains(t, err, "path traversal")
		_, err = store.GetObject(ctx, "..", "x")
		assert.Error(t, err)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := store.PutObject(ctx, "aggregation", "", "", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
	})
}
