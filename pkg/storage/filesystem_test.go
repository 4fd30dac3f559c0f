package storage

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("agreements/chk-1.pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	assert.True(t, store.Exists(rel))

	f, err := store.Open(rel)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "%PDF-1.3", string(data))

	require.NoError(t, store.Delete(rel))
	assert.False(t, store.Exists(rel))
	require.NoError(t, store.Delete(rel))
}

func TestLocalStorageRejectsEscapes(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"../etc/passwd", "/etc/passwd", "", "a/../../b"} {
		_, err := store.Save(name, []byte("x"))
		assert.Error(t, err, name)
	}
}
