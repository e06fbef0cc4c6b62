package typekit

import (
    "fmt"
    "math"
    "strconv"
    "strings"
)

func intBounds(size int) (int64, int64) {
    switch size {
    case 1:
        return math.MinInt8, math.MaxInt8
    case 2:
        return math.MinInt16, math.MaxInt16
    case 4:
        return math.MinInt32, math.MaxInt32
    default:
        return math.MinInt64, math.MaxInt64
    }
}

func uintMax(size int) uint64 {
    switch size {
    case 1:
        return math.MaxUint8
    case 2:
        return math.MaxUint16
    case 4:
        return math.MaxUint32
    default:
        return math.MaxUint64
    }
}

// FromNative builds a Value of type t from a Go value, checking that it
// fits the layout of t.
func FromNative(t *TypeInfo, x any) (Value, error) {
    if t == nil { return Value{}, ErrUnknownType }
    if v, ok := x.(Value); ok {
        if !v.Valid() { return Value{}, fmt.Errorf("%w: invalid value", ErrConversion) }
        x = v.Interface()
    }
    switch t.Kind {
    case KindBool:
        b, ok := x.(bool)
        if !ok { return Value{}, convErr(t, x) }
        if b { return Value{t: t, bits: 1}, nil }
        return Value{t: t}, nil
    case KindInt:
        return toInt(t, x)
    case KindUint:
        return toUint(t, x)
    case KindFloat:
        return toFloat(t, x)
    case KindString:
        switch s := x.(type) {
        case string:
            return Value{t: t, s: s}, nil
        case []byte:
            return Value{t: t, s: string(s)}, nil
        }
        return Value{}, convErr(t, x)
    }
    return Value{}, fmt.Errorf("%w: %s has no layout", ErrConversion, t.Name)
}

func toInt(t *TypeInfo, x any) (Value, error) {
    lo, hi := intBounds(t.Size)
    if i, ok := signedOf(x); ok {
        if i < lo || i > hi { return Value{}, rangeErr(t, x) }
        return Value{t: t, bits: uint64(i)}, nil
    }
    if u, ok := unsignedOf(x); ok {
        if u > uint64(hi) { return Value{}, rangeErr(t, x) }
        return Value{t: t, bits: u}, nil
    }
    if f, ok := floatOf(x); ok {
        if f != math.Trunc(f) || math.IsInf(f, 0) { return Value{}, convErr(t, x) }
        if f < float64(lo) || f >= -float64(lo) { return Value{}, rangeErr(t, x) }
        return Value{t: t, bits: uint64(int64(f))}, nil
    }
    return Value{}, convErr(t, x)
}

func toUint(t *TypeInfo, x any) (Value, error) {
    hi := uintMax(t.Size)
    if u, ok := unsignedOf(x); ok {
        if u > hi { return Value{}, rangeErr(t, x) }
        return Value{t: t, bits: u}, nil
    }
    if i, ok := signedOf(x); ok {
        if i < 0 || uint64(i) > hi { return Value{}, rangeErr(t, x) }
        return Value{t: t, bits: uint64(i)}, nil
    }
    if f, ok := floatOf(x); ok {
        if f != math.Trunc(f) || math.IsInf(f, 0) { return Value{}, convErr(t, x) }
        if f < 0 || f >= float64(hi)+1 { return Value{}, rangeErr(t, x) }
        return Value{t: t, bits: uint64(f)}, nil
    }
    return Value{}, convErr(t, x)
}

func toFloat(t *TypeInfo, x any) (Value, error) {
    var f float64
    if f32, ok := x.(float32); ok {
        f = float64(f32)
    } else if g, ok := floatOf(x); ok {
        f = g
    } else if i, ok := signedOf(x); ok {
        f = float64(i)
    } else if u, ok := unsignedOf(x); ok {
        f = float64(u)
    } else {
        return Value{}, convErr(t, x)
    }
    if t.Size == 4 {
        if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
            return Value{}, rangeErr(t, x)
        }
        f = float64(float32(f))
    }
    return Value{t: t, bits: math.Float64bits(f)}, nil
}

func signedOf(x any) (int64, bool) {
    switch n := x.(type) {
    case int:
        return int64(n), true
    case int8:
        return int64(n), true
    case int16:
        return int64(n), true
    case int32:
        return int64(n), true
    case int64:
        return n, true
    }
    return 0, false
}

func unsignedOf(x any) (uint64, bool) {
    switch n := x.(type) {
    case uint:
        return uint64(n), true
    case uint8:
        return uint64(n), true
    case uint16:
        return uint64(n), true
    case uint32:
        return uint64(n), true
    case uint64:
        return n, true
    case uintptr:
        return uint64(n), true
    }
    return 0, false
}

func floatOf(x any) (float64, bool) {
    switch n := x.(type) {
    case float32:
        return float64(n), true
    case float64:
        return n, true
    }
    return 0, false
}

// ParseValue parses the textual form of a value of type t.
func ParseValue(t *TypeInfo, text string) (Value, error) {
    if t == nil { return Value{}, ErrUnknownType }
    s := strings.TrimSpace(text)
    switch t.Kind {
    case KindBool:
        b, err := strconv.ParseBool(s)
        if err != nil { return Value{}, fmt.Errorf("%w: %q as %s", ErrConversion, text, t.Name) }
        return FromNative(t, b)
    case KindInt:
        i, err := strconv.ParseInt(s, 0, t.Size*8)
        if err != nil { return Value{}, parseErr(t, text, err) }
        return FromNative(t, i)
    case KindUint:
        u, err := strconv.ParseUint(s, 0, t.Size*8)
        if err != nil { return Value{}, parseErr(t, text, err) }
        return FromNative(t, u)
    case KindFloat:
        f, err := strconv.ParseFloat(s, t.Size*8)
        if err != nil { return Value{}, parseErr(t, text, err) }
        return FromNative(t, f)
    case KindString:
        return FromNative(t, text)
    }
    return Value{}, convErr(t, text)
}

func parseErr(t *TypeInfo, text string, err error) error {
    if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
        return fmt.Errorf("%w: %q for %s", ErrOutOfRange, text, t.Name)
    }
    return fmt.Errorf("%w: %q as %s", ErrConversion, text, t.Name)
}

func convErr(t *TypeInfo, x any) error {
    return fmt.Errorf("%w: %T to %s", ErrConversion, x, t.Name)
}

func rangeErr(t *TypeInfo, x any) error {
    return fmt.Errorf("%w: %v does not fit %s", ErrOutOfRange, x, t.Name)
}
