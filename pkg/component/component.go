// Package component implements task contexts: named owners of typed ports
// and properties.
package component

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "strings"
    "sync"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/memkv"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/propstore"
    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/registry"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

var (
    ErrExists   = errors.New("component: name already in use")
    ErrNotFound = errors.New("component: no such port or property")
)

// TaskContext owns ports and properties under one name.
type TaskContext struct {
    name  string
    types *typekit.Registry
    kv    *memkv.Store
    ownKV bool

    mu         sync.RWMutex
    ports      map[string]port.Port
    props      map[string]*Property
    disconnect func(port.Port)
}

// New creates a task context. Property values live in kv; a nil kv gives
// the context a private store.
func New(name string, types *typekit.Registry, kv *memkv.Store) (*TaskContext, error) {
    name = strings.TrimSpace(name)
    if name == "" || strings.ContainsAny(name, ". \t") {
        return nil, fmt.Errorf("component: invalid task name %q", name)
    }
    tc := &TaskContext{name: name, types: types, kv: kv, ports: make(map[string]port.Port), props: make(map[string]*Property)}
    if kv == nil {
        tc.kv = memkv.New(memkv.Options{Shards: 4})
        tc.ownKV = true
    }
    return tc, nil
}

// OnDisconnect replaces how RemovePort and Close tear down a port's
// connections. The default only disconnects the port itself.
func (tc *TaskContext) OnDisconnect(f func(port.Port)) {
    tc.mu.Lock()
    tc.disconnect = f
    tc.mu.Unlock()
}

func (tc *TaskContext) disconnectPort(p port.Port) {
    tc.mu.RLock()
    f := tc.disconnect
    tc.mu.RUnlock()
    if f == nil {
        p.Disconnect()
        return
    }
    f(p)
}

func (tc *TaskContext) Name() string { return tc.name }

// Types is the registry the context resolves type names with.
func (tc *TaskContext) Types() *typekit.Registry { return tc.types }

func (tc *TaskContext) checkName(name string) error {
    if name == "" || strings.ContainsAny(name, ". \t") { return fmt.Errorf("component: invalid name %q", name) }
    if _, ok := tc.ports[name]; ok { return fmt.Errorf("%w: %s.%s", ErrExists, tc.name, name) }
    if _, ok := tc.props[name]; ok { return fmt.Errorf("%w: %s.%s", ErrExists, tc.name, name) }
    return nil
}

func (tc *TaskContext) CreateOutputPort(name, typename string) (*port.OutputPort, error) {
    t, err := tc.types.Lookup(typename)
    if err != nil { return nil, err }
    tc.mu.Lock()
    defer tc.mu.Unlock()
    if err := tc.checkName(name); err != nil { return nil, err }
    p := port.NewOutputPort(tc.name, name, t)
    tc.ports[name] = p
    zap.L().Debug("output port created", zap.String("port", p.Path()), zap.String("type", t.Name))
    return p, nil
}

func (tc *TaskContext) CreateInputPort(name, typename string) (*port.InputPort, error) {
    t, err := tc.types.Lookup(typename)
    if err != nil { return nil, err }
    tc.mu.Lock()
    defer tc.mu.Unlock()
    if err := tc.checkName(name); err != nil { return nil, err }
    p := port.NewInputPort(tc.name, name, t)
    tc.ports[name] = p
    zap.L().Debug("input port created", zap.String("port", p.Path()), zap.String("type", t.Name))
    return p, nil
}

func (tc *TaskContext) Port(name string) (port.Port, bool) {
    tc.mu.RLock()
    defer tc.mu.RUnlock()
    p, ok := tc.ports[name]
    return p, ok
}

func (tc *TaskContext) OutputPort(name string) (*port.OutputPort, bool) {
    p, _ := tc.Port(name)
    op, ok := p.(*port.OutputPort)
    return op, ok
}

func (tc *TaskContext) InputPort(name string) (*port.InputPort, bool) {
    p, _ := tc.Port(name)
    ip, ok := p.(*port.InputPort)
    return ip, ok
}

// Ports lists the ports ordered by name.
func (tc *TaskContext) Ports() []port.Port {
    tc.mu.RLock()
    out := make([]port.Port, 0, len(tc.ports))
    for _, p := range tc.ports { out = append(out, p) }
    tc.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
    return out
}

// RemovePort disconnects and removes a port.
func (tc *TaskContext) RemovePort(name string) error {
    tc.mu.Lock()
    p, ok := tc.ports[name]
    delete(tc.ports, name)
    tc.mu.Unlock()
    if !ok { return fmt.Errorf("%w: %s.%s", ErrNotFound, tc.name, name) }
    tc.disconnectPort(p)
    return nil
}

// CreateProperty adds a property holding the zero value of its type.
func (tc *TaskContext) CreateProperty(name, typename, doc string) (*Property, error) {
    t, err := tc.types.Lookup(typename)
    if err != nil { return nil, err }
    tc.mu.Lock()
    defer tc.mu.Unlock()
    if err := tc.checkName(name); err != nil { return nil, err }
    p := &Property{tc: tc, name: name, t: t, doc: doc}
    if err := p.store(t.Zero()); err != nil { return nil, err }
    tc.props[name] = p
    return p, nil
}

func (tc *TaskContext) Property(name string) (*Property, bool) {
    tc.mu.RLock()
    defer tc.mu.RUnlock()
    p, ok := tc.props[name]
    return p, ok
}

// Properties lists the properties ordered by name.
func (tc *TaskContext) Properties() []*Property {
    tc.mu.RLock()
    out := make([]*Property, 0, len(tc.props))
    for _, p := range tc.props { out = append(out, p) }
    tc.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
    return out
}

// SaveProperties writes every property to st.
func (tc *TaskContext) SaveProperties(ctx context.Context, st *propstore.Store) error {
    var recs []propstore.Record
    for _, p := range tc.Properties() {
        raw, ok := tc.kv.Get(p.key())
        if !ok { return fmt.Errorf("component: property %s lost its value", p.Path()) }
        recs = append(recs, propstore.Record{Component: tc.name, Name: p.name, Type: p.t.Name, Format: formatBinary, Doc: p.doc, Data: raw})
    }
    if len(recs) == 0 { return nil }
    return st.Save(ctx, recs...)
}

// LoadProperties sets properties from the records stored for this context
// and returns how many were applied. Records of unknown properties are
// skipped; records of another type are converted through the registry.
func (tc *TaskContext) LoadProperties(ctx context.Context, st *propstore.Store) (int, error) {
    recs, err := st.Load(ctx, tc.name)
    if err != nil { return 0, err }
    n := 0
    for _, r := range recs {
        p, ok := tc.Property(r.Name)
        if !ok {
            zap.L().Warn("stored property has no match", zap.String("component", tc.name), zap.String("property", r.Name))
            continue
        }
        if r.Format != formatBinary { return n, fmt.Errorf("component: property %s stored as %q", p.Path(), r.Format) }
        t, err := tc.types.Lookup(r.Type)
        if err != nil { return n, fmt.Errorf("component: property %s: %w", p.Path(), err) }
        v, err := codec.UnmarshalValue(codec.Binary(), t, r.Data)
        if err != nil { return n, fmt.Errorf("component: property %s: %w", p.Path(), err) }
        if err := p.Set(v); err != nil { return n, err }
        n++
    }
    return n, nil
}

// Describe builds the registry record of the context.
func (tc *TaskContext) Describe() registry.Descriptor {
    d := registry.Descriptor{Name: tc.name}
    for _, p := range tc.Ports() {
        d.Ports = append(d.Ports, registry.PortInfo{Name: p.Name(), Direction: p.Direction().String(), Type: p.Type().Name})
    }
    for _, p := range tc.Properties() {
        d.Properties = append(d.Properties, registry.PropertyInfo{Name: p.name, Type: p.t.Name, Doc: p.doc})
    }
    return d
}

// Close disconnects every port and drops the property values.
func (tc *TaskContext) Close() {
    for _, p := range tc.Ports() { tc.disconnectPort(p) }
    tc.kv.DeletePrefix(propPrefix(tc.name))
    if tc.ownKV { tc.kv.Close() }
}
