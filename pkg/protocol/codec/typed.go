package codec

import (
    "bytes"
    "encoding/json"
    "fmt"
    "math"
    "reflect"
    "strconv"
    "unicode/utf8"

    "google.golang.org/protobuf/proto"
    "google.golang.org/protobuf/types/known/wrapperspb"

    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

// rawJSON carries what a plain JSON scalar cannot: the IEEE bits of a
// non-finite float, or a string that is not valid UTF-8.
type rawJSON struct {
    Bits  string `json:"bits,omitempty"`
    Bytes []byte `json:"bytes,omitempty"`
}

// MarshalValue encodes a typed value with c. Every codec carries every
// value of the std types bit-identically.
func MarshalValue(c Codec, v typekit.Value) ([]byte, error) {
    t := v.Type()
    if t == nil { return nil, fmt.Errorf("codec: invalid value") }
    switch c.(type) {
    case binaryCodec:
        return c.Marshal(v)
    case protoCodec:
        return c.Marshal(wrap(v))
    case jsonCodec:
        if raw, ok := jsonRaw(v); ok { return c.Marshal(raw) }
    case cborCodec:
        if s, ok := v.Interface().(string); ok && !utf8.ValidString(s) { return c.Marshal([]byte(s)) }
    }
    return c.Marshal(v.Native())
}

func jsonRaw(v typekit.Value) (rawJSON, bool) {
    switch v.Type().Kind {
    case typekit.KindFloat:
        f := v.Float()
        if math.IsInf(f, 0) || math.IsNaN(f) { return rawJSON{Bits: strconv.FormatUint(math.Float64bits(f), 16)}, true }
    case typekit.KindString:
        s := v.Interface().(string)
        if !utf8.ValidString(s) { return rawJSON{Bytes: []byte(s)}, true }
    }
    return rawJSON{}, false
}

// UnmarshalValue decodes data produced by MarshalValue into a value of
// type t.
func UnmarshalValue(c Codec, t *typekit.TypeInfo, data []byte) (typekit.Value, error) {
    if t == nil { return typekit.Value{}, typekit.ErrUnknownType }
    switch c.(type) {
    case binaryCodec:
        out := t.Zero()
        if err := c.Unmarshal(data, &out); err != nil { return typekit.Value{}, err }
        return out, nil
    case protoCodec:
        msg := wrapperFor(t)
        if err := c.Unmarshal(data, msg); err != nil { return typekit.Value{}, err }
        return typekit.FromNative(t, unwrap(msg))
    case jsonCodec:
        if d := bytes.TrimSpace(data); len(d) > 0 && d[0] == '{' { return fromRawJSON(t, d) }
    case cborCodec:
        if t.Kind == typekit.KindString {
            var x any
            if err := c.Unmarshal(data, &x); err != nil { return typekit.Value{}, err }
            return typekit.FromNative(t, x)
        }
    }
    gt := t.GoType()
    if gt == nil { return typekit.Value{}, fmt.Errorf("codec: %s has no Go type", t.Name) }
    ptr := reflect.New(gt)
    if err := c.Unmarshal(data, ptr.Interface()); err != nil { return typekit.Value{}, err }
    return typekit.FromNative(t, ptr.Elem().Interface())
}

func fromRawJSON(t *typekit.TypeInfo, data []byte) (typekit.Value, error) {
    var raw rawJSON
    if err := json.Unmarshal(data, &raw); err != nil { return typekit.Value{}, err }
    switch {
    case t.Kind == typekit.KindFloat && raw.Bits != "":
        bits, err := strconv.ParseUint(raw.Bits, 16, 64)
        if err != nil { return typekit.Value{}, fmt.Errorf("codec: float bits %q: %w", raw.Bits, err) }
        return typekit.FromNative(t, math.Float64frombits(bits))
    case t.Kind == typekit.KindString:
        return typekit.FromNative(t, raw.Bytes)
    }
    return typekit.Value{}, fmt.Errorf("codec: unexpected object for %s", t.Name)
}

// Strings travel as BytesValue, which shares the StringValue wire layout
// without its UTF-8 check.
func wrapperFor(t *typekit.TypeInfo) proto.Message {
    switch t.Kind {
    case typekit.KindBool:
        return &wrapperspb.BoolValue{}
    case typekit.KindInt:
        if t.Size <= 4 { return &wrapperspb.Int32Value{} }
        return &wrapperspb.Int64Value{}
    case typekit.KindUint:
        if t.Size <= 4 { return &wrapperspb.UInt32Value{} }
        return &wrapperspb.UInt64Value{}
    case typekit.KindFloat:
        if t.Size == 4 { return &wrapperspb.FloatValue{} }
        return &wrapperspb.DoubleValue{}
    default:
        return &wrapperspb.BytesValue{}
    }
}

func wrap(v typekit.Value) proto.Message {
    t := v.Type()
    switch t.Kind {
    case typekit.KindBool:
        return wrapperspb.Bool(v.Bool())
    case typekit.KindInt:
        if t.Size <= 4 { return wrapperspb.Int32(int32(v.Int())) }
        return wrapperspb.Int64(v.Int())
    case typekit.KindUint:
        if t.Size <= 4 { return wrapperspb.UInt32(uint32(v.Uint())) }
        return wrapperspb.UInt64(v.Uint())
    case typekit.KindFloat:
        if t.Size == 4 { return wrapperspb.Float(float32(v.Float())) }
        return wrapperspb.Double(v.Float())
    default:
        return wrapperspb.Bytes([]byte(v.Interface().(string)))
    }
}

func unwrap(m proto.Message) any {
    switch w := m.(type) {
    case *wrapperspb.BoolValue:
        return w.GetValue()
    case *wrapperspb.Int32Value:
        return w.GetValue()
    case *wrapperspb.Int64Value:
        return w.GetValue()
    case *wrapperspb.UInt32Value:
        return w.GetValue()
    case *wrapperspb.UInt64Value:
        return w.GetValue()
    case *wrapperspb.FloatValue:
        return w.GetValue()
    case *wrapperspb.DoubleValue:
        return w.GetValue()
    case *wrapperspb.BytesValue:
        return w.GetValue()
    }
    return nil
}
