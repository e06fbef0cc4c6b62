package component

import (
    "fmt"

    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

const formatBinary = "binary"

func propPrefix(component string) string { return "prop:" + component + ":" }

// Property is a named typed value owned by a task context. The value is
// kept marshalled in the typekit layout, so Get returns exactly what was set.
type Property struct {
    tc   *TaskContext
    name string
    t    *typekit.TypeInfo
    doc  string
}

func (p *Property) Name() string            { return p.name }
func (p *Property) Path() string            { return p.tc.name + "." + p.name }
func (p *Property) Type() *typekit.TypeInfo { return p.t }
func (p *Property) Doc() string             { return p.doc }

func (p *Property) key() string { return propPrefix(p.tc.name) + p.name }

func (p *Property) store(v typekit.Value) error {
    b, err := codec.MarshalValue(codec.Binary(), v)
    if err != nil { return err }
    if !p.tc.kv.Set(p.key(), b, 0) { return fmt.Errorf("component: no room to store %s", p.Path()) }
    return nil
}

// Set converts x to the property type with range checking. A typekit.Value
// of another type goes through the registry's explicit conversion.
func (p *Property) Set(x any) error {
    var v typekit.Value
    var err error
    if tv, ok := x.(typekit.Value); ok {
        v, err = p.tc.types.Convert(tv, p.t.Name)
    } else {
        v, err = typekit.FromNative(p.t, x)
    }
    if err != nil { return fmt.Errorf("component: set %s: %w", p.Path(), err) }
    return p.store(v)
}

// SetValue stores v, which must already have the property type.
func (p *Property) SetValue(v typekit.Value) error {
    if !v.Valid() || v.Type().Name != p.t.Name {
        return fmt.Errorf("%w: %s is %s, value is %s", port.ErrTypeMismatch, p.Path(), p.t.Name, v.TypeName())
    }
    return p.store(v)
}

// Get returns the current value.
func (p *Property) Get() (typekit.Value, error) {
    b, ok := p.tc.kv.Get(p.key())
    if !ok { return typekit.Value{}, fmt.Errorf("%w: %s", ErrNotFound, p.Path()) }
    return codec.UnmarshalValue(codec.Binary(), p.t, b)
}

// Raw returns the marshalled value.
func (p *Property) Raw() ([]byte, bool) { return p.tc.kv.Get(p.key()) }
