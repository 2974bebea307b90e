package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/fanzone-auth/internal/models"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func sampleSession() models.Session {
	return models.Session{
		IsAuthenticated: true,
		Identity:        models.Identity{ID: "id-1", Username: "ax", Role: models.RoleFan},
		Tokens: models.TokenPair{
			AccessToken:     "access-token-value",
			RefreshToken:    "refresh-token-value",
			AccessExpiresAt: time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC),
		},
	}
}

func TestFileStore_SealedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", Namespace)
	store, err := NewFileStore(path, testKey())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "absence of the record means logged out")

	require.NoError(t, store.Save(ctx, sampleSession()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "refresh-token-value")
	assert.NotContains(t, string(raw), "access-token-value")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleSession(), loaded)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	_, ok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_WrongKeyIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), Namespace)
	store, err := NewFileStore(path, testKey())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleSession()))

	other, err := NewFileStore(path, bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	_, _, err = other.Load(context.Background())
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestFileStore_TruncatedIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), Namespace)
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
	store, err := NewFileStore(path, testKey())
	require.NoError(t, err)

	_, _, err = store.Load(context.Background())
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestNewFileStore_RejectsShortKey(t *testing.T) {
	_, err := NewFileStore("unused", []byte("too short"))
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key := testKey()

	fromHex, err := ParseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, fromHex)

	fromB64, err := ParseKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, fromB64)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, sampleSession()))
	loaded, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "id-1", loaded.Identity.ID)

	require.NoError(t, store.Clear(ctx))
	_, ok, _ = store.Load(ctx)
	assert.False(t, ok)
}
