package protocol

import (
    "fmt"
    "strings"

    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

// Format is a compact on-wire indicator of payload encoding.
// It is carried as the first byte of sample and control payloads.
type Format uint8

const (
    FormatUnknown Format = iota
    FormatJSON
    FormatCBOR
    FormatProto
    FormatBinary
)

func (f Format) String() string {
    switch f {
    case FormatJSON:
        return ContentJSON
    case FormatCBOR:
        return ContentCBOR
    case FormatProto:
        return ContentProto
    case FormatBinary:
        return ContentBinary
    default:
        return ContentUnknown
    }
}

// Name is the short configuration name of f.
func (f Format) Name() string {
    switch f {
    case FormatJSON:
        return "json"
    case FormatCBOR:
        return "cbor"
    case FormatProto:
        return "proto"
    case FormatBinary:
        return "binary"
    default:
        return ""
    }
}

// ParseFormat accepts short names ("cbor") and content types.
func ParseFormat(s string) (Format, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "json", ContentJSON:
        return FormatJSON, nil
    case "cbor", ContentCBOR:
        return FormatCBOR, nil
    case "proto", "protobuf", ContentProto:
        return FormatProto, nil
    case "binary", "typekit", ContentBinary:
        return FormatBinary, nil
    case "":
        return FormatUnknown, nil
    }
    return FormatUnknown, fmt.Errorf("unknown format: %q", s)
}

// CodecFor returns a codec instance for a given format.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
    switch f {
    case FormatJSON:
        if c := r.Get(ContentJSON); c != nil { return c, nil }
        return codec.JSON(), nil
    case FormatCBOR:
        if c := r.Get(ContentCBOR); c != nil { return c, nil }
        return codec.CBOR()
    case FormatProto:
        if c := r.Get(ContentProto); c != nil { return c, nil }
        return codec.Proto(), nil
    case FormatBinary:
        if c := r.Get(ContentBinary); c != nil { return c, nil }
        return codec.Binary(), nil
    default:
        return nil, fmt.Errorf("unknown format: %d", f)
    }
}

// EncodeBody serializes v using the codec for f and prefixes the payload
// with a single format byte.
func EncodeBody(r *codec.Registry, f Format, v any) ([]byte, error) {
    c, err := CodecFor(r, f)
    if err != nil { return nil, err }
    b, err := c.Marshal(v)
    if err != nil { return nil, err }
    return prefix(f, b), nil
}

// DecodeBody decodes payload produced by EncodeBody into v.
func DecodeBody(r *codec.Registry, payload []byte, v any) (Format, error) {
    if len(payload) == 0 { return FormatUnknown, fmt.Errorf("empty payload") }
    f := Format(payload[0])
    c, err := CodecFor(r, f)
    if err != nil { return f, err }
    if err := c.Unmarshal(payload[1:], v); err != nil { return f, err }
    return f, nil
}

// EncodeSample marshals a typed value with the codec for f, prefixed with
// the format byte.
func EncodeSample(r *codec.Registry, f Format, v typekit.Value) ([]byte, error) {
    c, err := CodecFor(r, f)
    if err != nil { return nil, err }
    b, err := codec.MarshalValue(c, v)
    if err != nil { return nil, err }
    return prefix(f, b), nil
}

// DecodeSample is the inverse of EncodeSample for a value of type t.
func DecodeSample(r *codec.Registry, t *typekit.TypeInfo, payload []byte) (typekit.Value, Format, error) {
    if len(payload) == 0 { return typekit.Value{}, FormatUnknown, fmt.Errorf("empty payload") }
    f := Format(payload[0])
    c, err := CodecFor(r, f)
    if err != nil { return typekit.Value{}, f, err }
    v, err := codec.UnmarshalValue(c, t, payload[1:])
    return v, f, err
}

func prefix(f Format, b []byte) []byte {
    out := make([]byte, 1+len(b))
    out[0] = byte(f)
    copy(out[1:], b)
    return out
}
