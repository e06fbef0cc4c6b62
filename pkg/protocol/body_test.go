package protocol

import (
    "bytes"
    "testing"

    "google.golang.org/protobuf/types/known/structpb"

    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

func TestEncodeDecodeBodyJSON(t *testing.T) {
    reg := codec.NewRegistry()
    in := map[string]any{"x": 1, "y": "z"}
    b, err := EncodeBody(reg, FormatJSON, in)
    if err != nil { t.Fatalf("encode: %v", err) }
    if b[0] != byte(FormatJSON) { t.Fatalf("format prefix mismatch") }
    var out map[string]any
    f, err := DecodeBody(reg, b, &out)
    if err != nil { t.Fatalf("decode: %v", err) }
    if f != FormatJSON { t.Fatalf("format mismatch") }
}

func TestEncodeDecodeBodyCBOR(t *testing.T) {
    reg := codec.NewRegistry()
    c, err := codec.CBOR()
    if err != nil { t.Fatalf("cbor: %v", err) }
    reg.Register(c)
    buf := bytes.Repeat([]byte{0xAA}, 16)
    in := map[string]any{"buf": buf}
    b, err := EncodeBody(reg, FormatCBOR, in)
    if err != nil { t.Fatalf("encode: %v", err) }
    var out map[string]any
    if _, err := DecodeBody(reg, b, &out); err != nil { t.Fatalf("decode: %v", err) }
}

func TestEncodeDecodeBodyProto(t *testing.T) {
    reg := codec.NewRegistry()
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    if err != nil { t.Fatalf("struct: %v", err) }
    b, err := EncodeBody(reg, FormatProto, s)
    if err != nil { t.Fatalf("encode: %v", err) }
    var out structpb.Struct
    if _, err := DecodeBody(reg, b, &out); err != nil { t.Fatalf("decode: %v", err) }
    if out.Fields["k"].GetStringValue() != "v" { t.Fatalf("value mismatch") }
}

func TestEncodeDecodeSample(t *testing.T) {
    reg := codec.NewRegistry()
    types := typekit.Default()
    v := types.MustValue("/int64_t", int64(-1)<<63)
    for _, f := range []Format{FormatJSON, FormatCBOR, FormatProto, FormatBinary} {
        b, err := EncodeSample(reg, f, v)
        if err != nil { t.Fatalf("%s encode: %v", f.Name(), err) }
        got, gf, err := DecodeSample(reg, v.Type(), b)
        if err != nil { t.Fatalf("%s decode: %v", f.Name(), err) }
        if gf != f || !got.Equal(v) { t.Fatalf("%s: got %v (%s)", f.Name(), got, gf.Name()) }
    }
    if _, _, err := DecodeSample(reg, v.Type(), []byte{99, 1}); err == nil { t.Fatalf("unknown format accepted") }
}

func TestControlMessage(t *testing.T) {
    reg, err := codec.NewDefaultRegistry()
    if err != nil { t.Fatalf("registry: %v", err) }
    id := NewConnID()
    e, err := NewControl(reg, MsgOpen, id, Open{Process: "p", Target: "consumer.in", Type: "/int32_t", Format: FormatBinary, Policy: Policy{Type: "buffer", Size: 4}})
    if err != nil { t.Fatalf("control: %v", err) }
    frame, _ := e.EncodeFrame()
    var d Envelope
    if err := d.DecodeFrame(frame); err != nil { t.Fatalf("decode frame: %v", err) }
    var o Open
    if _, err := DecodeEnvelopeBody(&d, &o, reg); err != nil { t.Fatalf("decode body: %v", err) }
    if o.Target != "consumer.in" || o.Policy.Size != 4 || o.Format != FormatBinary || d.Header.ConnID != id {
        t.Fatalf("open mismatch: %+v", o)
    }
}

func TestParseFormat(t *testing.T) {
    for in, want := range map[string]Format{"cbor": FormatCBOR, "application/json": FormatJSON, "Binary": FormatBinary, "protobuf": FormatProto, "": FormatUnknown} {
        got, err := ParseFormat(in)
        if err != nil || got != want { t.Fatalf("%q: %v %v", in, got, err) }
    }
    if _, err := ParseFormat("xml"); err == nil { t.Fatalf("xml accepted") }
}
