package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStorageWriteFileCreatesNestedDirectories(t *testing.T) {
	root := t.TempDir()
	storage, err := NewFileStorage(root)
	require.NoError(t, err)

	err = storage.WriteFile(context.Background(), "stream1/1700000000/init.mp4", []byte("payload"))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "stream1", "1700000000", "init.mp4"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestFileStorageWriteFileOverwrites(t *testing.T) {
	root := t.TempDir()
	storage, err := NewFileStorage(root)
	require.NoError(t, err)

	require.NoError(t, storage.WriteFile(context.Background(), "s/seg-0.m4s", []byte("first")))
	require.NoError(t, storage.WriteFile(context.Background(), "s/seg-0.m4s", []byte("second")))

	got, err := os.ReadFile(filepath.Join(root, "s", "seg-0.m4s"))
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestNewFileStorageCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	_, err := NewFileStorage(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
