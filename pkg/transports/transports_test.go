package transports

import (
    "errors"
    "runtime"
    "testing"

    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/transport"
)

func TestNamesTable(t *testing.T) {
    n := Names()
    for _, id := range []ID{Local, Mem, TCP, UDP, QUIC, GRPC, Serial, Stream} {
        if _, ok := n[id]; !ok { t.Fatalf("%v missing from names", id) }
    }
    _, hasPipe := n[WinPipe]
    if hasPipe != (runtime.GOOS == "windows") { t.Fatalf("winpipe availability: %v on %s", hasPipe, runtime.GOOS) }
    ids := IDs()
    for i := 1; i < len(ids); i++ {
        if ids[i-1] >= ids[i] { t.Fatalf("ids not sorted: %v", ids) }
    }
    if ids[0] != Local || Local != 0 || Stream != 8 { t.Fatalf("unexpected numbering: %v", ids) }
}

func TestParseID(t *testing.T) {
    cases := map[string]ID{"tcp": TCP, "QUIC": QUIC, " stream ": Stream, "2": TCP, "0": Local}
    for in, want := range cases {
        got, err := ParseID(in)
        if err != nil || got != want { t.Fatalf("ParseID(%q) = %v, %v", in, got, err) }
    }
    for _, bad := range []string{"pigeon", "42", ""} {
        if _, err := ParseID(bad); err == nil { t.Fatalf("ParseID(%q) accepted", bad) }
    }
}

func TestKindsAndFormats(t *testing.T) {
    if IsStream(TCP) || !IsStream(Stream) { t.Fatalf("IsStream wrong") }
    if TCP.Kind() != transport.KindTCP || FromKind(transport.KindQUIC) != QUIC { t.Fatalf("kind mapping wrong") }
    if Local.Kind() != transport.KindUnknown || Stream.Kind() != transport.KindUnknown { t.Fatalf("non-link ids have kinds") }
    want := map[ID]protocol.Format{
        Mem: protocol.FormatBinary, TCP: protocol.FormatBinary, Serial: protocol.FormatBinary,
        UDP: protocol.FormatCBOR, QUIC: protocol.FormatCBOR, GRPC: protocol.FormatProto, Stream: protocol.FormatJSON,
    }
    for id, f := range want {
        if DefaultFormat(id) != f { t.Fatalf("DefaultFormat(%v) = %v", id, DefaultFormat(id)) }
    }
}

func TestFactory(t *testing.T) {
    for _, id := range []ID{Mem, TCP, UDP, QUIC, GRPC, Serial} {
        tr, err := New(id)
        if err != nil { t.Fatalf("New(%v): %v", id, err) }
        if tr.Kind() != id.Kind() { t.Fatalf("New(%v) kind %v", id, tr.Kind()) }
    }
    if _, err := New(Local); err == nil { t.Fatalf("local has no backend") }
    tr, err := NewByKind("h3")
    if err != nil || tr.Kind() != transport.KindQUIC { t.Fatalf("NewByKind(h3) = %v, %v", tr, err) }
    _, err = NewByKind("carrier")
    var uk ErrUnknownKind
    if !errors.As(err, &uk) { t.Fatalf("want ErrUnknownKind, got %v", err) }
}
