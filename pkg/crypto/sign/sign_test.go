package sign

import (
    "bytes"
    "crypto/ed25519"
    "crypto/rand"
    "testing"
)

func TestSignVerify(t *testing.T) {
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    if err != nil { t.Fatalf("keygen: %v", err) }
    msg := HelloTranscript("Ed25519 ", pub, []byte{1, 2}, 1700000000000, "proc", "conn/target")
    if !bytes.Contains(msg, []byte("alg=ed25519|")) { t.Fatalf("alg not normalized: %s", msg) }
    sig, err := SignEd25519(priv, msg)
    if err != nil { t.Fatalf("sign: %v", err) }
    if !VerifyEd25519(pub, msg, sig) { t.Fatalf("verify failed") }
    other := HelloTranscript("ed25519", pub, []byte{1, 2}, 1700000000000, "proc", "conn/other")
    if VerifyEd25519(pub, other, sig) { t.Fatalf("binding not covered by signature") }
}
