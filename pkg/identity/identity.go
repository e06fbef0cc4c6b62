// Package identity loads the ed25519 key a process signs its handshakes with.
package identity

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/config"
    "github.com/rock-core/base-orogen-std/pkg/transport"
)

// ErrUnsupportedAlg is returned for identity algorithms other than ed25519.
var ErrUnsupportedAlg = errors.New("identity: unsupported algorithm")

// Load returns the configured private key and its canonical peer id
// (pk:ed25519:<b64(pub)>). The key comes from identity.private_key, then from
// identity.private_key_file. When neither holds a key a new one is generated
// and, if a key file is configured, written there so restarts keep it.
func Load(c config.IdentityConfig) (ed25519.PrivateKey, transport.PeerID, error) {
    if alg := strings.ToLower(c.Alg); alg != "" && alg != "ed25519" {
        return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedAlg, c.Alg)
    }
    pk, err := fromConfig(c)
    if err != nil { return nil, "", err }
    if pk == nil {
        _, pk, err = ed25519.GenerateKey(rand.Reader)
        if err != nil { return nil, "", err }
        if c.PrivateKeyFile != "" {
            if err := save(c.PrivateKeyFile, pk); err != nil { return nil, "", err }
        }
        zap.L().Info("generated ed25519 identity", zap.String("file", c.PrivateKeyFile),
            zap.String("pub_b64", base64.RawURLEncoding.EncodeToString(pk.Public().(ed25519.PublicKey))))
    }
    return pk, PeerID(pk), nil
}

// PeerID is the canonical id of the key's public half.
func PeerID(pk ed25519.PrivateKey) transport.PeerID {
    return transport.CanonicalPeerIDFromPubKey("ed25519", pk.Public().(ed25519.PublicKey))
}

func fromConfig(c config.IdentityConfig) (ed25519.PrivateKey, error) {
    if s := strings.TrimSpace(c.PrivateKey); s != "" {
        b, err := base64.RawURLEncoding.DecodeString(s)
        if err != nil { return nil, fmt.Errorf("identity.private_key: %w", err) }
        return check(b)
    }
    if c.PrivateKeyFile == "" { return nil, nil }
    b, err := os.ReadFile(c.PrivateKeyFile)
    if errors.Is(err, fs.ErrNotExist) { return nil, nil }
    if err != nil { return nil, fmt.Errorf("identity.private_key_file: %w", err) }
    if db, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(b))); err == nil {
        return check(db)
    }
    // raw key bytes
    return check(b)
}

func check(b []byte) (ed25519.PrivateKey, error) {
    switch len(b) {
    case ed25519.PrivateKeySize:
        return ed25519.PrivateKey(b), nil
    case ed25519.SeedSize:
        return ed25519.NewKeyFromSeed(b), nil
    }
    return nil, fmt.Errorf("identity: key has %d bytes, want %d or %d", len(b), ed25519.SeedSize, ed25519.PrivateKeySize)
}

func save(path string, pk ed25519.PrivateKey) error {
    if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil { return err }
    return os.WriteFile(path, []byte(base64.RawURLEncoding.EncodeToString(pk)+"\n"), 0o600)
}
