package codec

import (
    "math"
    "testing"

    "google.golang.org/protobuf/types/known/structpb"

    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

func TestJSONCodec(t *testing.T) {
    c := JSON()
    in := map[string]any{"a": 1, "b": "x"}
    b, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out map[string]any
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out["a"].(float64) != 1 || out["b"].(string) != "x" {
        t.Fatalf("roundtrip mismatch: %#v", out)
    }
}

func TestCBORCodec(t *testing.T) {
    c, err := CBOR()
    if err != nil { t.Fatalf("new cbor: %v", err) }
    in := map[string]any{"n": 42}
    b, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out map[string]any
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if n, ok := out["n"].(uint64); !ok || n != 42 {
        t.Fatalf("roundtrip mismatch: %#v", out)
    }
}

func TestProtoCodec(t *testing.T) {
    c := Proto()
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    if err != nil { t.Fatalf("struct: %v", err) }
    b, err := c.Marshal(s)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out structpb.Struct
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.Fields["k"].GetStringValue() != "v" { t.Fatalf("roundtrip mismatch") }
    if _, err := c.Marshal(42); err == nil { t.Fatalf("expected error for non-message") }
}

func TestBinaryLayout(t *testing.T) {
    reg := typekit.Default()
    c := Binary()
    b, err := c.Marshal(reg.MustValue("/int16_t", -2))
    if err != nil { t.Fatalf("marshal: %v", err) }
    if len(b) != 2 || b[0] != 0xfe || b[1] != 0xff { t.Fatalf("int16 layout: % x", b) }
    b, err = c.Marshal(reg.MustValue("/std/string", "abc"))
    if err != nil { t.Fatalf("marshal: %v", err) }
    if len(b) != 7 || b[0] != 3 || string(b[4:]) != "abc" { t.Fatalf("string layout: % x", b) }

    ti, _ := reg.Lookup("/int32_t")
    if _, err := UnmarshalValue(c, ti, []byte{1, 2, 3}); err == nil { t.Fatalf("short buffer accepted") }

    var u16 uint16
    if err := c.Unmarshal([]byte{0x34, 0x12}, &u16); err != nil || u16 != 0x1234 { t.Fatalf("native: %v %x", err, u16) }
}

func allCodecs(t *testing.T) []Codec {
    t.Helper()
    r, err := NewDefaultRegistry()
    if err != nil { t.Fatalf("registry: %v", err) }
    var out []Codec
    for _, ct := range r.ContentTypes() { out = append(out, r.Get(ct)) }
    if len(out) != 4 { t.Fatalf("expected 4 codecs, got %v", r.ContentTypes()) }
    return out
}

func TestValueRoundTripAllCodecs(t *testing.T) {
    reg := typekit.Default()
    var values []typekit.Value
    for _, size := range []int{1, 2, 4, 8} {
        sname := typekit.IntTypeName(size, true)
        uname := typekit.IntTypeName(size, false)
        bits := uint(size * 8)
        hi := int64(uint64(1)<<(bits-1) - 1)
        values = append(values,
            reg.MustValue(sname, hi),
            reg.MustValue(sname, -hi-1),
            reg.MustValue(sname, -hi),
            reg.MustValue(uname, uint64(math.MaxUint64)>>(64-bits)),
            reg.MustValue(uname, 0),
        )
    }
    values = append(values,
        reg.MustValue("/bool", true),
        reg.MustValue("/bool", false),
        reg.MustValue("/double", 0.1),
        reg.MustValue("/double", -math.MaxFloat64),
        reg.MustValue("/double", math.SmallestNonzeroFloat64),
        reg.MustValue("/float", float32(3.25)),
        reg.MustValue("/float", math.MaxFloat32),
        reg.MustValue("/std/string", ""),
        reg.MustValue("/std/string", "hello, wörld"),
    )
    for _, c := range allCodecs(t) {
        for _, v := range values {
            b, err := MarshalValue(c, v)
            if err != nil { t.Fatalf("%s marshal %s %v: %v", c.ContentType(), v.TypeName(), v, err) }
            got, err := UnmarshalValue(c, v.Type(), b)
            if err != nil { t.Fatalf("%s unmarshal %s: %v", c.ContentType(), v.TypeName(), err) }
            if !got.Equal(v) { t.Fatalf("%s: %s got %v want %v", c.ContentType(), v.TypeName(), got, v) }
        }
    }
}

func TestRawBytesAllCodecs(t *testing.T) {
    reg := typekit.Default()
    values := []typekit.Value{
        reg.MustValue("/std/string", string([]byte{0xff, 0xfe})),
        reg.MustValue("/std/string", "\xff\xfebytes"),
        reg.MustValue("/std/string", "ok \xc3"),
    }
    for _, c := range allCodecs(t) {
        for _, v := range values {
            b, err := MarshalValue(c, v)
            if err != nil { t.Fatalf("%s marshal %q: %v", c.ContentType(), v, err) }
            got, err := UnmarshalValue(c, v.Type(), b)
            if err != nil { t.Fatalf("%s unmarshal %q: %v", c.ContentType(), v, err) }
            if !got.Equal(v) { t.Fatalf("%s: got %q want %q", c.ContentType(), got, v) }
        }
    }
}

func TestNonFiniteFloatsAllCodecs(t *testing.T) {
    reg := typekit.Default()
    values := []typekit.Value{
        reg.MustValue("/double", math.Inf(1)),
        reg.MustValue("/double", math.Inf(-1)),
        reg.MustValue("/double", math.Copysign(0, -1)),
        reg.MustValue("/float", float32(math.Inf(1))),
        reg.MustValue("/float", float32(math.Inf(-1))),
        reg.MustValue("/float", float32(math.Copysign(0, -1))),
    }
    for _, c := range allCodecs(t) {
        for _, v := range values {
            b, err := MarshalValue(c, v)
            if err != nil { t.Fatalf("%s marshal %s %v: %v", c.ContentType(), v.TypeName(), v, err) }
            got, err := UnmarshalValue(c, v.Type(), b)
            if err != nil { t.Fatalf("%s unmarshal %s: %v", c.ContentType(), v.TypeName(), err) }
            if !got.Equal(v) { t.Fatalf("%s: %s got %v want %v", c.ContentType(), v.TypeName(), got, v) }
        }
    }
}

func TestNaN(t *testing.T) {
    reg := typekit.Default()
    v := reg.MustValue("/double", math.Float64frombits(0x7ff8000000000005))
    for _, c := range allCodecs(t) {
        b, err := MarshalValue(c, v)
        if err != nil { t.Fatalf("%s marshal: %v", c.ContentType(), err) }
        got, err := UnmarshalValue(c, v.Type(), b)
        if err != nil { t.Fatalf("%s unmarshal: %v", c.ContentType(), err) }
        if !math.IsNaN(got.Float()) { t.Fatalf("%s: got %v", c.ContentType(), got) }
        // canonical CBOR has a single NaN
        if c.ContentType() != "application/cbor" && !got.Equal(v) {
            t.Fatalf("%s: NaN bits %x", c.ContentType(), math.Float64bits(got.Float()))
        }
    }
}

func TestJSONKeepsPlainScalars(t *testing.T) {
    reg := typekit.Default()
    b, err := MarshalValue(JSON(), reg.MustValue("/double", 1.5))
    if err != nil || string(b) != "1.5" { t.Fatalf("double: %s %v", b, err) }
    b, err = MarshalValue(JSON(), reg.MustValue("/std/string", "abc"))
    if err != nil || string(b) != `"abc"` { t.Fatalf("string: %s %v", b, err) }
    b, err = MarshalValue(JSON(), reg.MustValue("/double", math.Inf(1)))
    if err != nil || string(b) != `{"bits":"7ff0000000000000"}` { t.Fatalf("inf: %s %v", b, err) }
}
