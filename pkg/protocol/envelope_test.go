package protocol

import (
    "bytes"
    "testing"
    "time"
)

func TestEnvelopeFrameEncodeDecode(t *testing.T) {
    e := Envelope{Header: Header{
        Version: Version,
        Type:    MsgSample,
        Flags:   FlagInit,
        Format:  FormatCBOR,
        TypeID:  7,
        Seq:     3,
        ConnID:  NewConnID(),
    }}
    e.Payload = []byte("hello")

    frame, err := e.EncodeFrame()
    if err != nil { t.Fatalf("encode: %v", err) }

    var d Envelope
    if err := d.DecodeFrame(frame); err != nil { t.Fatalf("decode: %v", err) }

    if !bytes.Equal(d.Payload, e.Payload) { t.Fatalf("payload mismatch") }
    if d.Header.Type != e.Header.Type || d.Header.Flags != e.Header.Flags || d.Header.ConnID != e.Header.ConnID || d.Header.Seq != e.Header.Seq {
        t.Fatalf("header mismatch")
    }
    if err := d.DecodeFrame(frame[:len(frame)-1]); err == nil { t.Fatalf("truncated frame accepted") }
}

func TestEnvelopeStream(t *testing.T) {
    var buf bytes.Buffer
    e := Envelope{Header: Header{Version: Version, Type: MsgHeartbeat}, Payload: []byte{1, 2, 3}}
    if _, err := e.WriteTo(&buf); err != nil { t.Fatalf("write: %v", err) }
    var d Envelope
    if _, err := d.ReadFrom(&buf); err != nil { t.Fatalf("read: %v", err) }
    if !bytes.Equal(d.Payload, e.Payload) || d.Header.Type != MsgHeartbeat { t.Fatalf("stream mismatch") }
}

func TestFragmentsAndReassemble(t *testing.T) {
    e := Envelope{Header: Header{Version: Version, Type: MsgSample, ConnID: NewConnID()}}
    data := bytes.Repeat([]byte{0xAB}, 1024)
    e.Payload = data
    frags, err := e.Fragments(128)
    if err != nil { t.Fatalf("fragments: %v", err) }
    if len(frags) != 8 { t.Fatalf("want 8 frags, got %d", len(frags)) }
    for i, f := range frags {
        if f.Header.FragIndex != uint16(i) { t.Fatalf("frag index mismatch") }
        if f.Header.FragTotal != uint16(len(frags)) { t.Fatalf("frag total mismatch") }
        if i == len(frags)-1 && (f.Header.Flags&FlagLastFrag) == 0 { t.Fatalf("last flag not set") }
    }
    re, err := Reassemble(frags)
    if err != nil { t.Fatalf("reassemble: %v", err) }
    if !bytes.Equal(re.Payload, data) { t.Fatalf("reassembled payload mismatch") }
}

func TestReassemblerOutOfOrder(t *testing.T) {
    e := Envelope{Header: Header{Version: Version, Type: MsgSample, ConnID: NewConnID(), Seq: 9}}
    data := make([]byte, 1000)
    for i := range data { data[i] = byte(i) }
    e.Payload = data
    frags, _ := e.Fragments(300)
    r := NewReassembler(time.Second)
    order := []int{3, 1, 1, 0, 2}
    var got Envelope
    var done bool
    for _, i := range order {
        var err error
        got, done, err = r.Add(frags[i])
        if err != nil { t.Fatalf("add: %v", err) }
    }
    if !done { t.Fatalf("not complete") }
    if !bytes.Equal(got.Payload, data) || got.Header.Seq != 9 || got.HasFlag(FlagFragment) { t.Fatalf("bad reassembly") }
    if r.Pending() != 0 { t.Fatalf("pending %d", r.Pending()) }

    whole := Envelope{Header: Header{Type: MsgSample}, Payload: []byte{1}}
    out, ok, err := r.Add(whole)
    if err != nil || !ok || out.Payload[0] != 1 { t.Fatalf("unfragmented passthrough") }
}

func TestReassemblerExpires(t *testing.T) {
    e := Envelope{Header: Header{ConnID: NewConnID(), Seq: 1}, Payload: make([]byte, 20)}
    frags, _ := e.Fragments(10)
    r := NewReassembler(time.Second)
    now := time.Unix(100, 0)
    r.now = func() time.Time { return now }
    if _, done, _ := r.Add(frags[0]); done { t.Fatalf("done too early") }
    now = now.Add(2 * time.Second)
    other := Envelope{Header: Header{ConnID: NewConnID(), Seq: 2}, Payload: make([]byte, 20)}
    ofr, _ := other.Fragments(10)
    _, _, _ = r.Add(ofr[0])
    if r.Pending() != 1 { t.Fatalf("stale set kept: %d", r.Pending()) }
}
