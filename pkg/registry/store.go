package registry

import (
    "encoding/json"
    "errors"
    "sort"
    "strconv"
    "strings"
    "time"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/memkv"
)

var ErrNotFound = errors.New("registry: component not found")

// PortInfo describes one port of a deployed component.
type PortInfo struct {
    Name      string `json:"name"`
    Direction string `json:"direction"`
    Type      string `json:"type"`
}

// PropertyInfo describes one property of a deployed component.
type PropertyInfo struct {
    Name string `json:"name"`
    Type string `json:"type"`
    Doc  string `json:"doc,omitempty"`
}

// Descriptor is the registry record of a deployed task context.
type Descriptor struct {
    Name          string            `json:"name"`
    Process       string            `json:"process,omitempty"`
    Ports         []PortInfo        `json:"ports,omitempty"`
    Properties    []PropertyInfo    `json:"properties,omitempty"`
    Endpoints     []string          `json:"endpoints,omitempty"`
    Labels        map[string]string `json:"labels,omitempty"`
    UpdatedUnixMs int64             `json:"updated_unix_ms"`
}

// Store keeps track of deployed task contexts.
// Backed by memkv for now; can be swapped to persistent KV later.
type Store struct {
    kv *memkv.Store
}

func NewStore(kv *memkv.Store) *Store { return &Store{kv: kv} }

const keyPrefix = "reg:component:"

func keyComponent(name string) string { return keyPrefix + name }

// Register replaces or creates a component record. A positive ttl makes
// the record expire unless registered again.
func (s *Store) Register(d Descriptor, ttl time.Duration) error {
    d.Name = strings.TrimSpace(d.Name)
    if d.Name == "" { return errors.New("registry: missing component name") }
    d.Labels = mapCopy(d.Labels)
    sortDescriptor(&d)
    d.UpdatedUnixMs = time.Now().UnixMilli()
    b, err := json.Marshal(d)
    if err != nil { return err }
    if !s.kv.Set(keyComponent(d.Name), b, ttl) { return errors.New("registry: store is full") }
    zap.L().Info("component registered", zap.String("component", d.Name), zap.Int("ports", len(d.Ports)), zap.Int("properties", len(d.Properties)))
    return nil
}

// Update applies fn to an existing record.
func (s *Store) Update(name string, fn func(*Descriptor)) error {
    var uerr error
    ok := s.kv.Update(keyComponent(name), func(old []byte) []byte {
        var d Descriptor
        if err := json.Unmarshal(old, &d); err != nil {
            uerr = err
            return old
        }
        fn(&d)
        d.Name = name
        sortDescriptor(&d)
        d.UpdatedUnixMs = time.Now().UnixMilli()
        b, err := json.Marshal(d)
        if err != nil {
            uerr = err
            return old
        }
        return b
    })
    if uerr != nil { return uerr }
    if !ok { return ErrNotFound }
    zap.L().Debug("component updated", zap.String("component", name))
    return nil
}

// Deregister removes a component record.
func (s *Store) Deregister(name string) bool {
    ok := s.kv.Delete(keyComponent(name))
    if ok { zap.L().Info("component deregistered", zap.String("component", name)) }
    return ok
}

// Get returns one record.
func (s *Store) Get(name string) (Descriptor, bool) {
    var d Descriptor
    b, ok := s.kv.Get(keyComponent(name))
    if !ok { return d, false }
    if err := json.Unmarshal(b, &d); err != nil { return d, false }
    return d, true
}

// ListOptions filter and page a listing.
type ListOptions struct {
    Labels    map[string]string
    Process   string
    PageSize  int
    PageToken string
}

// List returns a snapshot matching filters and pagination, and the token
// of the next page ("" on the last page).
func (s *Store) List(opts ListOptions) ([]Descriptor, string) {
    pageSize := opts.PageSize
    if pageSize <= 0 { pageSize = 100 }
    start := 0
    if tok := strings.TrimSpace(opts.PageToken); tok != "" {
        if n, err := strconv.Atoi(tok); err == nil && n >= 0 { start = n }
    }

    keys := s.kv.Keys(keyPrefix)
    var out []Descriptor
    matched := 0
    for _, k := range keys {
        d, ok := s.Get(strings.TrimPrefix(k, keyPrefix))
        if !ok { continue }
        if !labelsMatch(d.Labels, opts.Labels) { continue }
        if opts.Process != "" && d.Process != opts.Process { continue }
        if matched < start { matched++; continue }
        if len(out) >= pageSize { return out, strconv.Itoa(matched) }
        out = append(out, d)
        matched++
    }
    return out, ""
}

// ---------- helpers ----------

func labelsMatch(have, need map[string]string) bool {
    if len(need) == 0 { return true }
    for k, v := range need {
        if hv, ok := have[k]; !ok || hv != v { return false }
    }
    return true
}

func sortDescriptor(d *Descriptor) {
    sort.Slice(d.Ports, func(i, j int) bool { return d.Ports[i].Name < d.Ports[j].Name })
    sort.Slice(d.Properties, func(i, j int) bool { return d.Properties[i].Name < d.Properties[j].Name })
    sort.Strings(d.Endpoints)
}

func mapCopy[K comparable, V any](in map[K]V) map[K]V {
    if in == nil { return nil }
    out := make(map[K]V, len(in))
    for k, v := range in { out[k] = v }
    return out
}
