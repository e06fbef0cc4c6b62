package codec

import (
    "bytes"
    "encoding/binary"
    "fmt"
    "math"

    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

type binaryCodec struct{}

// Binary returns the typekit layout codec: little-endian fixed width per
// type size, strings as u32 length + bytes.
// Content-Type: application/x-typekit
func Binary() Codec { return binaryCodec{} }

func (binaryCodec) ContentType() string { return "application/x-typekit" }

func (binaryCodec) Marshal(v any) ([]byte, error) {
    switch x := v.(type) {
    case typekit.Value:
        return appendValue(nil, x)
    case string:
        return appendString(nil, x), nil
    case []byte:
        return appendString(nil, string(x)), nil
    }
    var buf bytes.Buffer
    if err := binary.Write(&buf, binary.LittleEndian, v); err != nil { return nil, fmt.Errorf("binary: %w", err) }
    return buf.Bytes(), nil
}

func (binaryCodec) Unmarshal(data []byte, v any) error {
    switch p := v.(type) {
    case *typekit.Value:
        if p.Type() == nil { return fmt.Errorf("binary: target value has no type") }
        out, err := decodeValue(p.Type(), data)
        if err != nil { return err }
        *p = out
        return nil
    case *string:
        s, err := decodeString(data)
        if err != nil { return err }
        *p = s
        return nil
    }
    if n := binary.Size(v); n >= 0 && n != len(data) {
        return fmt.Errorf("binary: %d bytes for %T of size %d", len(data), v, n)
    }
    return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

func appendString(b []byte, s string) []byte {
    b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
    return append(b, s...)
}

func decodeString(data []byte) (string, error) {
    if len(data) < 4 { return "", fmt.Errorf("binary: short string header") }
    n := binary.LittleEndian.Uint32(data)
    if uint64(n) != uint64(len(data)-4) {
        return "", fmt.Errorf("binary: string length %d, have %d bytes", n, len(data)-4)
    }
    return string(data[4:]), nil
}

func appendValue(b []byte, v typekit.Value) ([]byte, error) {
    t := v.Type()
    if t == nil { return nil, fmt.Errorf("binary: invalid value") }
    switch t.Kind {
    case typekit.KindString:
        return appendString(b, v.Interface().(string)), nil
    case typekit.KindBool:
        if v.Bool() { return append(b, 1), nil }
        return append(b, 0), nil
    case typekit.KindFloat:
        if t.Size == 4 { return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v.Float()))), nil }
        return binary.LittleEndian.AppendUint64(b, math.Float64bits(v.Float())), nil
    }
    u := v.Uint()
    switch t.Size {
    case 1:
        return append(b, byte(u)), nil
    case 2:
        return binary.LittleEndian.AppendUint16(b, uint16(u)), nil
    case 4:
        return binary.LittleEndian.AppendUint32(b, uint32(u)), nil
    case 8:
        return binary.LittleEndian.AppendUint64(b, u), nil
    }
    return nil, fmt.Errorf("binary: %s has unsupported size %d", t.Name, t.Size)
}

func decodeValue(t *typekit.TypeInfo, data []byte) (typekit.Value, error) {
    if t.Kind == typekit.KindString {
        s, err := decodeString(data)
        if err != nil { return typekit.Value{}, err }
        return typekit.FromNative(t, s)
    }
    if len(data) != t.Size {
        return typekit.Value{}, fmt.Errorf("binary: %s needs %d bytes, got %d", t.Name, t.Size, len(data))
    }
    var x any
    switch t.Kind {
    case typekit.KindBool:
        if data[0] > 1 { return typekit.Value{}, fmt.Errorf("binary: bad bool byte %#x", data[0]) }
        x = data[0] == 1
    case typekit.KindFloat:
        if t.Size == 4 {
            x = math.Float32frombits(binary.LittleEndian.Uint32(data))
        } else {
            x = math.Float64frombits(binary.LittleEndian.Uint64(data))
        }
    case typekit.KindInt:
        switch t.Size {
        case 1:
            x = int8(data[0])
        case 2:
            x = int16(binary.LittleEndian.Uint16(data))
        case 4:
            x = int32(binary.LittleEndian.Uint32(data))
        default:
            x = int64(binary.LittleEndian.Uint64(data))
        }
    case typekit.KindUint:
        switch t.Size {
        case 1:
            x = data[0]
        case 2:
            x = binary.LittleEndian.Uint16(data)
        case 4:
            x = binary.LittleEndian.Uint32(data)
        default:
            x = binary.LittleEndian.Uint64(data)
        }
    }
    return typekit.FromNative(t, x)
}
