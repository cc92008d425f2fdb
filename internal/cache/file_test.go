package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileBackendDefaultDir(t *testing.T) {
	b := NewFileBackend("")
	require.Equal(t, os.TempDir(), b.Dir())
	require.Equal(t, filepath.Join(os.TempDir(), FileName), b.Path())
}

func TestFileBackendRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	b := NewFileBackend(dir)
	ctx := context.Background()

	_, err := b.Load(ctx)
	require.ErrorIs(t, err, ErrNoEntry)

	storedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, b.Store(ctx, &Entry{Data: []byte(`{"plugins":[]}`), StoredAt: storedAt}))

	e, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"plugins":[]}`, string(e.Data))
	require.True(t, storedAt.Equal(e.StoredAt))

	// exactly one file, no leftovers from the temp write
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, FileName, files[0].Name())

	require.NoError(t, b.Delete(ctx))
	require.NoError(t, b.Delete(ctx))
	_, err = b.Load(ctx)
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestFileBackendUsesModTime(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, &Entry{Data: []byte("old")}))

	touched := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(b.Path(), touched, touched))

	e, err := b.Load(ctx)
	require.NoError(t, err)
	require.True(t, touched.Equal(e.StoredAt))

	storedAt, err := b.Stat(ctx)
	require.NoError(t, err)
	require.True(t, touched.Equal(storedAt))

	st, err := New(b, &fakeFetcher{}).Status(ctx)
	require.NoError(t, err)
	require.True(t, st.Present)
	require.False(t, st.Valid())
}

func TestFileBackendIgnoresPartialWrites(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName+".123.tmp"), []byte(`{"plug`), 0o644))

	_, err := b.Load(context.Background())
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestFileBackendReplace(t *testing.T) {
	b := NewFileBackend(t.TempDir())
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, &Entry{Data: []byte("first, and somewhat longer")}))
	require.NoError(t, b.Store(ctx, &Entry{Data: []byte("second")}))
	e, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", string(e.Data))
}
