package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGetDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "items/1/a.txt", strings.NewReader("hello"), 5, "text/plain"))

	rc, err := store.Get(ctx, "items/1/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hello", string(data))

	require.NoError(t, store.Delete(ctx, "items/1/a.txt"))
	require.NoError(t, store.Delete(ctx, "items/1/a.txt"))

	_, err = store.Get(ctx, "items/1/a.txt")
	require.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		err := store.Put(context.Background(), key, strings.NewReader("x"), 1, "")
		require.Error(t, err, key)
	}
}

func TestLocalStoragePutRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	err = store.Put(context.Background(), "short.bin", bytes.NewReader([]byte("abc")), 10, "")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "short.bin"))
	require.True(t, os.IsNotExist(statErr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.Put(ctx, "cancelled.bin", strings.NewReader("abc"), 3, "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old/a.bin", strings.NewReader("a"), 1, ""))
	require.NoError(t, store.Put(ctx, "fresh.bin", strings.NewReader("b"), 1, ""))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("old/a.bin"), past, past))

	deleted, err := store.CleanupOlderThan(time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{"old/a.bin"}, deleted)

	_, err = os.Stat(store.Path("fresh.bin"))
	require.NoError(t, err)
}
