package typekit

import (
    "math"
    "strconv"
)

// Value is an immutable typed value. Numeric values are kept as a 64-bit
// pattern: two's complement for signed integers, IEEE-754 double bits for
// floats (float32 values widen exactly), 0/1 for booleans.
type Value struct {
    t    *TypeInfo
    bits uint64
    s    string
}

// Type returns the descriptor of v, or nil for the zero Value.
func (v Value) Type() *TypeInfo { return v.t }

// TypeName returns the canonical type name of v.
func (v Value) TypeName() string {
    if v.t == nil { return "" }
    return v.t.Name
}

// Valid reports whether v carries a type.
func (v Value) Valid() bool { return v.t != nil }

func (v Value) Bool() bool     { return v.bits != 0 }
func (v Value) Int() int64     { return int64(v.bits) }
func (v Value) Uint() uint64   { return v.bits }
func (v Value) Float() float64 { return math.Float64frombits(v.bits) }

// Interface returns the widest Go representation of v.
func (v Value) Interface() any {
    if v.t == nil { return nil }
    switch v.t.Kind {
    case KindBool:
        return v.Bool()
    case KindInt:
        return v.Int()
    case KindUint:
        return v.Uint()
    case KindFloat:
        return v.Float()
    case KindString:
        return v.s
    }
    return nil
}

// Native returns v as its width-exact Go type (int16 for /int16_t, float32
// for /float, ...).
func (v Value) Native() any {
    if v.t == nil { return nil }
    switch v.t.Kind {
    case KindBool:
        return v.Bool()
    case KindInt:
        switch v.t.Size {
        case 1:
            return int8(v.Int())
        case 2:
            return int16(v.Int())
        case 4:
            return int32(v.Int())
        default:
            return v.Int()
        }
    case KindUint:
        switch v.t.Size {
        case 1:
            return uint8(v.bits)
        case 2:
            return uint16(v.bits)
        case 4:
            return uint32(v.bits)
        default:
            return v.bits
        }
    case KindFloat:
        if v.t.Size == 4 { return float32(v.Float()) }
        return v.Float()
    case KindString:
        return v.s
    }
    return nil
}

// Equal is bit-identical comparison, including the type name.
func (v Value) Equal(o Value) bool {
    if v.TypeName() != o.TypeName() { return false }
    return v.bits == o.bits && v.s == o.s
}

func (v Value) String() string {
    if v.t == nil { return "<invalid>" }
    switch v.t.Kind {
    case KindBool:
        return strconv.FormatBool(v.Bool())
    case KindInt:
        return strconv.FormatInt(v.Int(), 10)
    case KindUint:
        return strconv.FormatUint(v.bits, 10)
    case KindFloat:
        return strconv.FormatFloat(v.Float(), 'g', -1, v.t.Size*8)
    default:
        return v.s
    }
}
