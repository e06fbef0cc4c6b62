package typekit

import (
    "fmt"
    "sort"
    "strings"
    "sync"

    "github.com/Masterminds/semver/v3"
)

// Registry resolves type names and aliases to descriptors.
// Safe for concurrent use.
type Registry struct {
    mu    sync.RWMutex
    types map[string]*TypeInfo
    names map[string]string          // alias or canonical -> canonical
    kits  map[string]*semver.Version // loaded typekits
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
    return &Registry{
        types: make(map[string]*TypeInfo),
        names: make(map[string]string),
        kits:  make(map[string]*semver.Version),
    }
}

var (
    defaultOnce sync.Once
    defaultReg  *Registry
)

// Default returns a process-wide registry with the std typekit loaded.
func Default() *Registry {
    defaultOnce.Do(func() {
        defaultReg = NewRegistry()
        if err := defaultReg.Load(StdTypekit); err != nil { panic(err) }
    })
    return defaultReg
}

// Register adds t under its canonical name and its aliases.
func (r *Registry) Register(t *TypeInfo) error {
    if t == nil || t.Name == "" { return fmt.Errorf("%w: empty type name", ErrConversion) }
    if t.Kind == KindInvalid { return fmt.Errorf("typekit: %s has no kind", t.Name) }
    r.mu.Lock()
    defer r.mu.Unlock()
    if err := r.checkFreeLocked(t); err != nil { return err }
    r.addLocked(t)
    return nil
}

func (r *Registry) checkFreeLocked(t *TypeInfo) error {
    if _, ok := r.names[t.Name]; ok { return fmt.Errorf("%w: %s", ErrDuplicateType, t.Name) }
    for _, a := range t.Aliases {
        if _, ok := r.names[a]; ok { return fmt.Errorf("%w: alias %s", ErrDuplicateType, a) }
    }
    return nil
}

func (r *Registry) addLocked(t *TypeInfo) {
    r.types[t.Name] = t
    r.names[t.Name] = t.Name
    for _, a := range t.Aliases { r.names[a] = t.Name }
}

// Alias makes alias resolve to the type registered as name. The alias is
// kept by the registry only; TypeInfo.Aliases lists the declared ones.
func (r *Registry) Alias(alias, name string) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    canon, ok := r.names[name]
    if !ok { return fmt.Errorf("%w: %s", ErrUnknownType, name) }
    if cur, ok := r.names[alias]; ok {
        if cur == canon { return nil }
        return fmt.Errorf("%w: alias %s", ErrDuplicateType, alias)
    }
    r.names[alias] = canon
    return nil
}

// Aliases lists every name other than the canonical one that resolves to
// the type registered as name, sorted.
func (r *Registry) Aliases(name string) []string {
    r.mu.RLock()
    defer r.mu.RUnlock()
    canon, ok := r.names[name]
    if !ok { return nil }
    var out []string
    for n, c := range r.names {
        if c == canon && n != canon { out = append(out, n) }
    }
    sort.Strings(out)
    return out
}

// Lookup resolves a canonical name or an alias.
func (r *Registry) Lookup(name string) (*TypeInfo, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    canon, ok := r.names[name]
    if !ok { return nil, fmt.Errorf("%w: %s", ErrUnknownType, name) }
    return r.types[canon], nil
}

// LookupID finds the type whose wire id is id.
func (r *Registry) LookupID(id uint32) (*TypeInfo, bool) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    for _, t := range r.types {
        if t.ID() == id { return t, true }
    }
    return nil, false
}

// Names returns the sorted canonical type names.
func (r *Registry) Names() []string {
    r.mu.RLock()
    out := make([]string, 0, len(r.types))
    for n := range r.types { out = append(out, n) }
    r.mu.RUnlock()
    sort.Strings(out)
    return out
}

// Typekits returns loaded typekit names mapped to their versions.
func (r *Registry) Typekits() map[string]string {
    r.mu.RLock()
    defer r.mu.RUnlock()
    out := make(map[string]string, len(r.kits))
    for n, v := range r.kits { out[n] = v.String() }
    return out
}

// HasTypekit reports whether the named typekit is loaded.
func (r *Registry) HasTypekit(name string) bool {
    r.mu.RLock()
    defer r.mu.RUnlock()
    _, ok := r.kits[name]
    return ok
}

// Load loads a builtin typekit by name. Loading an already loaded
// typekit is a no-op.
func (r *Registry) Load(name string) error {
    if r.HasTypekit(name) { return nil }
    b, ok := builtins[name]
    if !ok { return fmt.Errorf("typekit: no builtin typekit %q", name) }
    return r.loadKit(name, b.version, nil, b.types())
}

// checkRequires verifies semver constraints against loaded typekits.
func (r *Registry) checkRequires(name string, requires map[string]string) error {
    r.mu.RLock()
    defer r.mu.RUnlock()
    return r.checkRequiresLocked(name, requires)
}

func (r *Registry) checkRequiresLocked(name string, requires map[string]string) error {
    for dep, constraint := range requires {
        c, err := semver.NewConstraint(constraint)
        if err != nil { return fmt.Errorf("typekit %s: constraint %q: %w", name, constraint, err) }
        have, ok := r.kits[dep]
        if !ok { return fmt.Errorf("%w: %s requires %s %s (not loaded)", ErrTypekitRequirement, name, dep, constraint) }
        if !c.Check(have) {
            return fmt.Errorf("%w: %s requires %s %s, have %s", ErrTypekitRequirement, name, dep, constraint, have)
        }
    }
    return nil
}

func (r *Registry) loadKit(name, version string, requires map[string]string, types []*TypeInfo) error {
    v, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
    if err != nil { return fmt.Errorf("typekit %s: version %q: %w", name, version, err) }
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.kits[name]; ok { return nil }
    if err := r.checkRequiresLocked(name, requires); err != nil { return err }
    seen := make(map[string]bool)
    for _, t := range types {
        if t == nil || t.Name == "" || t.Kind == KindInvalid { return fmt.Errorf("typekit %s: invalid type", name) }
        if err := r.checkFreeLocked(t); err != nil { return fmt.Errorf("typekit %s: %w", name, err) }
        for _, n := range append([]string{t.Name}, t.Aliases...) {
            if seen[n] { return fmt.Errorf("typekit %s: %w: %s", name, ErrDuplicateType, n) }
            seen[n] = true
        }
    }
    for _, t := range types {
        t.Typekit = name
        r.addLocked(t)
    }
    r.kits[name] = v
    return nil
}

// NewValue converts a Go value into a Value of the named type.
func (r *Registry) NewValue(typename string, x any) (Value, error) {
    t, err := r.Lookup(typename)
    if err != nil { return Value{}, err }
    return FromNative(t, x)
}

// MustValue is NewValue for literals known to fit.
func (r *Registry) MustValue(typename string, x any) Value {
    v, err := r.NewValue(typename, x)
    if err != nil { panic(err) }
    return v
}

// Convert converts v to the named type, checking the target range.
func (r *Registry) Convert(v Value, typename string) (Value, error) {
    t, err := r.Lookup(typename)
    if err != nil { return Value{}, err }
    if !v.Valid() { return Value{}, fmt.Errorf("%w: invalid value", ErrConversion) }
    if v.t.Name == t.Name { return v, nil }
    if t.Kind == KindString && v.t.Kind != KindString {
        return Value{}, fmt.Errorf("%w: %s to %s", ErrConversion, v.t.Name, t.Name)
    }
    return FromNative(t, v.Native())
}

// Parse parses text as a value of the named type.
func (r *Registry) Parse(typename, text string) (Value, error) {
    t, err := r.Lookup(typename)
    if err != nil { return Value{}, err }
    return ParseValue(t, text)
}
