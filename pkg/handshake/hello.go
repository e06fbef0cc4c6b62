package handshake

import (
    "crypto/ed25519"
    "crypto/rand"
    "errors"
    "fmt"
    "time"

    "github.com/rock-core/base-orogen-std/pkg/crypto/sign"
    "github.com/rock-core/base-orogen-std/pkg/transport"
)

// Hello is a signed identity statement attached to a connection request.
// It binds a public key to a process name, a fresh nonce, a timestamp and
// the request it travels with.
type Hello struct {
    Version   uint32 `json:"ver,omitempty"`
    Process   string `json:"process,omitempty"`
    Alg       string `json:"alg"`
    PubKey    []byte `json:"pubkey"`
    Nonce     []byte `json:"nonce"`
    Timestamp int64  `json:"ts_unix_ms"`
    Sig       []byte `json:"sig"`
}

// BuildHello constructs a Hello for binding and signs it with the provided ed25519 private key.
func BuildHello(process, binding string, priv ed25519.PrivateKey) (Hello, transport.PeerID, error) {
    pub := priv.Public().(ed25519.PublicKey)
    nonce := make([]byte, 16)
    if _, err := rand.Read(nonce); err != nil { return Hello{}, "", err }
    h := Hello{
        Version:   1,
        Process:   process,
        Alg:       "ed25519",
        PubKey:    append([]byte(nil), pub...),
        Nonce:     nonce,
        Timestamp: time.Now().UnixMilli(),
    }
    msg := sign.HelloTranscript(h.Alg, h.PubKey, h.Nonce, h.Timestamp, h.Process, binding)
    sig, _ := sign.SignEd25519(priv, msg)
    h.Sig = sig
    pid := transport.CanonicalPeerIDFromPubKey("ed25519", pub)
    return h, pid, nil
}

// VerifyHello verifies signature, binding and basic freshness of Hello. Returns canonical PeerID.
func VerifyHello(h Hello, binding string, maxSkew time.Duration) (transport.PeerID, error) {
    if h.Alg != "ed25519" { return "", fmt.Errorf("unsupported alg: %s", h.Alg) }
    if len(h.PubKey) != ed25519.PublicKeySize { return "", errors.New("bad pubkey length") }
    if len(h.Sig) != ed25519.SignatureSize { return "", errors.New("bad signature length") }
    if maxSkew <= 0 { maxSkew = 5 * time.Minute }
    now := time.Now().UnixMilli()
    if dt := now - h.Timestamp; dt > int64(maxSkew/time.Millisecond) || dt < -int64(maxSkew/time.Millisecond) {
        return "", errors.New("hello timestamp out of bounds")
    }
    if !sign.VerifyEd25519(ed25519.PublicKey(h.PubKey), sign.HelloTranscript(h.Alg, h.PubKey, h.Nonce, h.Timestamp, h.Process, binding), h.Sig) {
        return "", errors.New("hello signature invalid")
    }
    pid := transport.CanonicalPeerIDFromPubKey("ed25519", h.PubKey)
    return pid, nil
}
