package framed

import (
    "bytes"
    "net"
    "testing"
)

func TestFrameRoundTrip(t *testing.T) {
    a, b := net.Pipe()
    ca, cb := New(a, 0), New(b, 0)
    defer ca.Close()
    defer cb.Close()
    frames := [][]byte{{}, []byte("x"), bytes.Repeat([]byte{7}, 70000)}
    go func() {
        for _, f := range frames { _ = ca.SendBytes(f) }
    }()
    for i, want := range frames {
        got, err := cb.RecvBytes()
        if err != nil { t.Fatalf("recv %d: %v", i, err) }
        if !bytes.Equal(got, want) { t.Fatalf("frame %d mismatch", i) }
    }
    if cb.LastSeen().IsZero() { t.Fatalf("last seen not updated") }
}

func TestFrameLimit(t *testing.T) {
    a, b := net.Pipe()
    ca, cb := New(a, 8), New(b, 4)
    defer ca.Close()
    defer cb.Close()
    if err := ca.SendBytes(make([]byte, 9)); err == nil { t.Fatalf("oversized send accepted") }
    go func() { _ = ca.SendBytes(make([]byte, 6)) }()
    if _, err := cb.RecvBytes(); err == nil { t.Fatalf("oversized frame accepted") }
}
