// Package typekit maps type names to the layout descriptors used by the
// marshalling layer. A Registry is loaded with one or more typekits: the
// builtin "std" typekit provides the primitive and string types, and YAML
// manifests can add derived types on top of them.
package typekit

import (
    "errors"
    "hash/fnv"
    "reflect"
)

var (
    ErrUnknownType        = errors.New("typekit: unknown type")
    ErrOutOfRange         = errors.New("typekit: value out of range")
    ErrConversion         = errors.New("typekit: invalid conversion")
    ErrDuplicateType      = errors.New("typekit: type already registered")
    ErrTypekitRequirement = errors.New("typekit: requirement not satisfied")
)

// Kind is the layout family of a type.
type Kind uint8

const (
    KindInvalid Kind = iota
    KindBool
    KindInt
    KindUint
    KindFloat
    KindString
)

func (k Kind) String() string {
    switch k {
    case KindBool:
        return "bool"
    case KindInt:
        return "int"
    case KindUint:
        return "uint"
    case KindFloat:
        return "float"
    case KindString:
        return "string"
    default:
        return "invalid"
    }
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
    switch s {
    case "bool":
        return KindBool
    case "int":
        return KindInt
    case "uint":
        return KindUint
    case "float":
        return KindFloat
    case "string":
        return KindString
    default:
        return KindInvalid
    }
}

// TypeInfo describes the layout of a registered type.
// Size is the fixed width in bytes; it is 0 for strings.
type TypeInfo struct {
    Name    string
    Kind    Kind
    Size    int
    Typekit string
    Aliases []string
    Doc     string
}

// ID is the 32-bit identifier carried in sample frame headers.
func (t *TypeInfo) ID() uint32 { return TypeID(t.Name) }

// TypeID hashes a canonical type name (FNV-1a 32).
func TypeID(name string) uint32 {
    h := fnv.New32a()
    _, _ = h.Write([]byte(name))
    return h.Sum32()
}

// Fixed reports whether values of this type have a fixed binary width.
func (t *TypeInfo) Fixed() bool { return t.Kind != KindString }

// GoType returns the width-exact Go type used to carry values of t.
func (t *TypeInfo) GoType() reflect.Type {
    switch t.Kind {
    case KindBool:
        return reflect.TypeOf(false)
    case KindInt:
        switch t.Size {
        case 1:
            return reflect.TypeOf(int8(0))
        case 2:
            return reflect.TypeOf(int16(0))
        case 4:
            return reflect.TypeOf(int32(0))
        default:
            return reflect.TypeOf(int64(0))
        }
    case KindUint:
        switch t.Size {
        case 1:
            return reflect.TypeOf(uint8(0))
        case 2:
            return reflect.TypeOf(uint16(0))
        case 4:
            return reflect.TypeOf(uint32(0))
        default:
            return reflect.TypeOf(uint64(0))
        }
    case KindFloat:
        if t.Size == 4 { return reflect.TypeOf(float32(0)) }
        return reflect.TypeOf(float64(0))
    case KindString:
        return reflect.TypeOf("")
    default:
        return nil
    }
}

// Zero returns the zero value of t.
func (t *TypeInfo) Zero() Value { return Value{t: t} }

// derive copies the layout of t under a new name.
func (t *TypeInfo) derive(name, kit, doc string, aliases []string) *TypeInfo {
    return &TypeInfo{
        Name:    name,
        Kind:    t.Kind,
        Size:    t.Size,
        Typekit: kit,
        Aliases: append([]string(nil), aliases...),
        Doc:     doc,
    }
}
