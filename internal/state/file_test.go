package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/domain"
)

type cursor struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	var got cursor
	ok, err := s.Get(ctx, KeyCursor, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, KeyCursor, cursor{Page: 3, PageSize: 50}))
	ok, err = s.Get(ctx, KeyCursor, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cursor{Page: 3, PageSize: 50}, got)

	require.NoError(t, s.Put(ctx, KeyCursor, cursor{Page: 4, PageSize: 50}))
	_, err = s.Get(ctx, KeyCursor, &got)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Page)

	require.NoError(t, s.Delete(ctx, KeyCursor))
	require.NoError(t, s.Delete(ctx, KeyCursor))
	ok, err = s.Get(ctx, KeyCursor, &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, KeyCheckpoint, map[string]int{"count": i}))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vectorize.checkpoint.json", entries[0].Name())
}

func TestFileStoreCorruptValue(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{"), 0o644))

	var v map[string]string
	_, err = s.Get(context.Background(), KeySession, &v)
	assert.Error(t, err)
}

func TestFileStoreLockIsSharedByDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)

	unlock, err := a.Lock(ctx, LockVectorize)
	require.NoError(t, err)
	_, err = b.Lock(ctx, LockVectorize)
	assert.ErrorIs(t, err, domain.ErrLocked)
	_, err = a.Lock(ctx, LockVectorize)
	assert.ErrorIs(t, err, domain.ErrLocked)
	assert.FileExists(t, filepath.Join(dir, "vectorize.lock"))

	require.NoError(t, unlock())
	unlock, err = b.Lock(ctx, LockVectorize)
	require.NoError(t, err)
	require.NoError(t, unlock())
}
