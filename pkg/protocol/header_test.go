package protocol

import (
    "bytes"
    "errors"
    "testing"
)

func TestHeaderRoundtrip(t *testing.T) {
    var h Header
    h.Version = Version
    h.Type = MsgSample
    h.Flags = FlagInit | FlagFragment
    h.Format = FormatBinary
    h.PayloadLen = 1234
    for i := 0; i < len(h.ConnID); i++ { h.ConnID[i] = byte(i) }
    h.TypeID = 0xdeadbeef
    h.Seq = 0x1122334455667788
    h.Timestamp = -42
    h.FragIndex = 2
    h.FragTotal = 5

    b, err := h.MarshalBinary()
    if err != nil { t.Fatalf("marshal: %v", err) }
    if len(b) != HeaderSize { t.Fatalf("header size = %d", len(b)) }

    var h2 Header
    if err := h2.UnmarshalBinary(b); err != nil { t.Fatalf("unmarshal: %v", err) }

    if h2.Version != h.Version || h2.Type != h.Type || h2.Flags != h.Flags ||
        h2.Format != h.Format || h2.PayloadLen != h.PayloadLen ||
        !bytes.Equal(h2.ConnID[:], h.ConnID[:]) || h2.TypeID != h.TypeID ||
        h2.Seq != h.Seq || h2.Timestamp != h.Timestamp ||
        h2.FragIndex != h.FragIndex || h2.FragTotal != h.FragTotal {
        t.Fatalf("headers differ: %#v vs %#v", h2, h)
    }
}

func TestHeaderRejects(t *testing.T) {
    h := Header{Version: Version, Type: MsgAck}
    b, _ := h.MarshalBinary()
    var out Header
    if err := out.UnmarshalBinary(b[:10]); !errors.Is(err, ErrShortHeader) { t.Fatalf("short: %v", err) }
    bad := append([]byte(nil), b...)
    bad[0] = 'X'
    if err := out.UnmarshalBinary(bad); !errors.Is(err, ErrBadMagic) { t.Fatalf("magic: %v", err) }
    bad = append([]byte(nil), b...)
    bad[2] = 99
    if err := out.UnmarshalBinary(bad); !errors.Is(err, ErrBadVersion) { t.Fatalf("version: %v", err) }
}
