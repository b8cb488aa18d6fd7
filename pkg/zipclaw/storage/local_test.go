package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGet(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)
	ctx := context.Background()

	err := l.Put(ctx, "documents", "a.zip", strings.NewReader("payload"))
	require.NoError(t, err)

	data, err := l.Get(ctx, "documents", "a.zip")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestLocalGetNotFound(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)

	_, err := l.Get(context.Background(), "documents", "missing.zip")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalGetIsRepeatable(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "documents", "a.zip", strings.NewReader("payload")))

	for i := 0; i < 3; i++ {
		data, err := l.Get(ctx, "documents", "a.zip")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
}

func TestLocalPutOverwrites(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "documents", "a.zip", strings.NewReader("v1")))
	require.NoError(t, l.Put(ctx, "documents", "a.zip", strings.NewReader("v2")))

	data, err := l.Get(ctx, "documents", "a.zip")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	names, err := l.List(ctx, "documents")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip"}, names)
}

func TestLocalListSorted(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)
	ctx := context.Background()

	for _, n := range []string{"c.zip", "a.zip", "b.zip"} {
		require.NoError(t, l.Put(ctx, "documents", n, strings.NewReader("x")))
	}

	names, err := l.List(ctx, "documents")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip", "b.zip", "c.zip"}, names)
}

func TestLocalListEmptyNamespace(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)

	names, err := l.List(context.Background(), "documents")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalNamespacesAreIsolated(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "documents", "a.zip", strings.NewReader("doc")))
	require.NoError(t, l.Put(ctx, "photos", "a.zip", strings.NewReader("pic")))

	data, err := l.Get(ctx, "documents", "a.zip")
	require.NoError(t, err)
	assert.Equal(t, "doc", string(data))

	names, err := l.List(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip"}, names)
}

func TestLocalRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, nil)
	ctx := context.Background()

	bad := []struct{ ns, name string }{
		{"..", "a.zip"},
		{"documents", "../escape.zip"},
		{"documents", ""},
		{"", "a.zip"},
		{"documents", `..\escape.zip`},
	}
	for _, k := range bad {
		err := l.Put(ctx, k.ns, k.name, strings.NewReader("x"))
		assert.Error(t, err, "key %q/%q must be rejected", k.ns, k.name)
	}

	// Nothing escaped the store root.
	_, err := os.Stat(filepath.Join(dir, "..", "escape.zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalListSkipsDotfiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, nil)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "documents", "a.zip", strings.NewReader("x")))
	// A leftover temp file from an interrupted put must not be listed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "documents", ".put-123"), []byte("junk"), 0o600))

	names, err := l.List(ctx, "documents")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip"}, names)
}
