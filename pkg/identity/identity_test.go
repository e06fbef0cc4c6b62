package identity

import (
    "crypto/ed25519"
    "encoding/base64"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/rock-core/base-orogen-std/pkg/config"
)

func TestGeneratedKeyIsPersisted(t *testing.T) {
    file := filepath.Join(t.TempDir(), "keys", "id.key")
    pk, pid, err := Load(config.IdentityConfig{Alg: "ed25519", PrivateKeyFile: file})
    require.NoError(t, err)
    require.True(t, strings.HasPrefix(string(pid), "pk:ed25519:"))

    again, pid2, err := Load(config.IdentityConfig{PrivateKeyFile: file})
    require.NoError(t, err)
    require.Equal(t, pk, again)
    require.Equal(t, pid, pid2)
}

func TestInlineKeyAndSeed(t *testing.T) {
    seed := make([]byte, ed25519.SeedSize)
    for i := range seed { seed[i] = byte(i) }
    want := ed25519.NewKeyFromSeed(seed)

    pk, _, err := Load(config.IdentityConfig{PrivateKey: base64.RawURLEncoding.EncodeToString(want)})
    require.NoError(t, err)
    require.Equal(t, want, pk)

    file := filepath.Join(t.TempDir(), "seed")
    require.NoError(t, os.WriteFile(file, seed, 0o600))
    pk, _, err = Load(config.IdentityConfig{PrivateKeyFile: file})
    require.NoError(t, err)
    require.Equal(t, want, pk)
}

func TestLoadRejectsBadInput(t *testing.T) {
    _, _, err := Load(config.IdentityConfig{Alg: "rsa"})
    require.ErrorIs(t, err, ErrUnsupportedAlg)

    _, _, err = Load(config.IdentityConfig{PrivateKey: base64.RawURLEncoding.EncodeToString([]byte("short"))})
    require.Error(t, err)
}
