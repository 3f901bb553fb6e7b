package infra

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider_RoundTrip(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "proctord")
	provider := NewFileKeyProvider(dataDir)
	assert.False(t, provider.KeyExists())

	_, err := provider.GetKey()
	assert.Error(t, err)

	key, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, provider.StoreKey(key))

	// The data dir is created on demand and the key is owner-only.
	info, err := os.Stat(provider.keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	dirInfo, err := os.Stat(dataDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	got, err := NewFileKeyProvider(dataDir).GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFileKeyProvider_BadKeyFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"not base64", "%%%", "failed to decode key"},
		{"short key", "c2hvcnQ=", "invalid key size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dataDir, keyFileName), []byte(tt.content), 0600))

			_, err := NewFileKeyProvider(dataDir).GetKey()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFileKeyProvider_ToleratesTrailingNewline(t *testing.T) {
	dataDir := t.TempDir()
	provider := NewFileKeyProvider(dataDir)
	key, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, provider.StoreKey(key))

	raw, err := os.ReadFile(provider.keyPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(provider.keyPath, append(raw, '\n'), 0600))

	got, err := provider.GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFileKeyProvider_RejectsWrongSize(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	assert.ErrorContains(t, provider.StoreKey([]byte("tooshort")), "invalid key size")
	assert.False(t, provider.KeyExists())
}

func TestGenerateKey_Unique(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, a, keySize)
	assert.NotEqual(t, a, b)
}

func TestEnsureKey(t *testing.T) {
	t.Run("first run creates a key that later runs reuse", func(t *testing.T) {
		dataDir := t.TempDir()

		first, err := EnsureKey(NewFileKeyProvider(dataDir))
		require.NoError(t, err)
		second, err := EnsureKey(NewFileKeyProvider(dataDir))
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// The key opens the store it was created for.
		store, err := NewEncryptedStore(dataDir, second)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("read-only provider without a key fails", func(t *testing.T) {
		t.Setenv(StoreKeyEnv, "")
		_, err := EnsureKey(NewEnvKeyProvider(""))
		assert.ErrorContains(t, err, "read-only")
	})

	t.Run("environment key is returned as-is", func(t *testing.T) {
		key, err := GenerateKey()
		require.NoError(t, err)
		t.Setenv(StoreKeyEnv, hex.EncodeToString(key))

		got, err := EnsureKey(NewEnvKeyProvider(""))
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})
}

func TestEnvKeyProvider(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	t.Run("reads hex key", func(t *testing.T) {
		t.Setenv(StoreKeyEnv, hex.EncodeToString(key))
		provider := NewEnvKeyProvider("")

		assert.True(t, provider.KeyExists())
		got, err := provider.GetKey()
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})

	t.Run("rejects short key", func(t *testing.T) {
		t.Setenv(StoreKeyEnv, "abcd")
		_, err := NewEnvKeyProvider("").GetKey()
		assert.ErrorContains(t, err, "invalid key size")
	})

	t.Run("rejects non-hex", func(t *testing.T) {
		t.Setenv(StoreKeyEnv, "not-hex")
		_, err := NewEnvKeyProvider("").GetKey()
		assert.Error(t, err)
	})

	t.Run("unset", func(t *testing.T) {
		t.Setenv(StoreKeyEnv, "")
		provider := NewEnvKeyProvider("")
		assert.False(t, provider.KeyExists())
		_, err := provider.GetKey()
		assert.Error(t, err)
		assert.Error(t, provider.StoreKey(key))
	})
}

func TestSelectKeyProvider(t *testing.T) {
	dataDir := t.TempDir()

	t.Setenv(StoreKeyEnv, "")
	_, isFile := SelectKeyProvider(dataDir).(*FileKeyProvider)
	assert.True(t, isFile)

	key, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv(StoreKeyEnv, hex.EncodeToString(key))
	_, isEnv := SelectKeyProvider(dataDir).(*EnvKeyProvider)
	assert.True(t, isEnv)
}
