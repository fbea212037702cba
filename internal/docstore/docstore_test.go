package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_SaveAndLoad(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("%PDF-1.7 test")

	require.NoError(t, store.Save(ctx, "OBRJO2024-ABC001.pdf", data))

	loaded, err := store.Load(ctx, "OBRJO2024-ABC001.pdf")
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestLocalStore_LoadMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "missing.pdf")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_StripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "../escape.pdf", []byte("x")))

	// Документ сохраняется внутри каталога хранилища под базовым именем.
	loaded, err := store.Load(ctx, "escape.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), loaded)
}
