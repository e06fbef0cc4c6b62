// Package port implements typed output and input ports and the channels
// that connect them.
package port

import (
    "errors"
    "fmt"
    "sort"
    "sync"

    "github.com/google/uuid"

    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

var (
    ErrTypeMismatch = errors.New("port: type mismatch")
    ErrNotConnected = errors.New("port: not connected")
)

// Direction of a port.
type Direction int

const (
    In Direction = iota
    Out
)

func (d Direction) String() string {
    if d == Out { return "out" }
    return "in"
}

// Port is what output and input ports have in common.
type Port interface {
    Owner() string
    Name() string
    Path() string
    Type() *typekit.TypeInfo
    Direction() Direction
    Connected() bool
    Disconnect()
}

// Sink receives the samples written to an output port for one connection.
type Sink interface {
    Push(v typekit.Value) error
    Close() error
}

func checkType(t *typekit.TypeInfo, v typekit.Value) error {
    if !v.Valid() || v.Type().Name != t.Name {
        return fmt.Errorf("%w: got %s, port carries %s", ErrTypeMismatch, v.TypeName(), t.Name)
    }
    return nil
}

type base struct {
    owner string
    name  string
    t     *typekit.TypeInfo
}

func (b *base) Owner() string           { return b.owner }
func (b *base) Name() string            { return b.name }
func (b *base) Path() string            { return b.owner + "." + b.name }
func (b *base) Type() *typekit.TypeInfo { return b.t }

// OutputPort fans written samples out to every connection.
type OutputPort struct {
    base
    mu      sync.RWMutex
    sinks   map[string]Sink
    last    typekit.Value
    hasLast bool
}

func NewOutputPort(owner, name string, t *typekit.TypeInfo) *OutputPort {
    return &OutputPort{base: base{owner: owner, name: name, t: t}, sinks: make(map[string]Sink)}
}

func (p *OutputPort) Direction() Direction { return Out }

// Write sends v to all connections. Delivery is asynchronous for remote
// connections; the first sink error is returned after every sink was tried.
func (p *OutputPort) Write(v typekit.Value) error {
    if err := checkType(p.t, v); err != nil { return err }
    p.mu.Lock()
    p.last, p.hasLast = v, true
    sinks := make([]Sink, 0, len(p.sinks))
    for _, s := range p.sinks { sinks = append(sinks, s) }
    p.mu.Unlock()
    var first error
    for _, s := range sinks {
        if err := s.Push(v); err != nil && first == nil { first = err }
    }
    return first
}

// WriteNative converts x to the port type and writes it.
func (p *OutputPort) WriteNative(x any) error {
    v, err := typekit.FromNative(p.t, x)
    if err != nil { return err }
    return p.Write(v)
}

// Last returns the last written sample.
func (p *OutputPort) Last() (typekit.Value, bool) {
    p.mu.RLock()
    defer p.mu.RUnlock()
    return p.last, p.hasLast
}

// Attach adds a connection. With init, the last written sample is pushed
// to the new sink right away.
func (p *OutputPort) Attach(id string, s Sink, init bool) error {
    p.mu.Lock()
    if _, dup := p.sinks[id]; dup {
        p.mu.Unlock()
        return fmt.Errorf("port: %s already has connection %s", p.Path(), id)
    }
    p.sinks[id] = s
    last, has := p.last, p.hasLast
    p.mu.Unlock()
    if init && has { return s.Push(last) }
    return nil
}

// Detach removes a connection without closing its sink.
func (p *OutputPort) Detach(id string) (Sink, bool) {
    p.mu.Lock()
    defer p.mu.Unlock()
    s, ok := p.sinks[id]
    delete(p.sinks, id)
    return s, ok
}

// Connections lists the connection ids.
func (p *OutputPort) Connections() []string {
    p.mu.RLock()
    out := make([]string, 0, len(p.sinks))
    for id := range p.sinks { out = append(out, id) }
    p.mu.RUnlock()
    sort.Strings(out)
    return out
}

func (p *OutputPort) Connected() bool { p.mu.RLock(); defer p.mu.RUnlock(); return len(p.sinks) > 0 }

// Disconnect closes every connection.
func (p *OutputPort) Disconnect() {
    p.mu.Lock()
    sinks := p.sinks
    p.sinks = make(map[string]Sink)
    p.mu.Unlock()
    for _, s := range sinks { _ = s.Close() }
}

// DisconnectID closes one connection.
func (p *OutputPort) DisconnectID(id string) error {
    s, ok := p.Detach(id)
    if !ok { return ErrNotConnected }
    return s.Close()
}

// InputPort reads samples from its channels.
type InputPort struct {
    base
    mu     sync.Mutex
    chans  []*Channel
    cur    int
    signal chan struct{}
}

func NewInputPort(owner, name string, t *typekit.TypeInfo) *InputPort {
    return &InputPort{base: base{owner: owner, name: name, t: t}, signal: make(chan struct{}, 1)}
}

func (p *InputPort) Direction() Direction { return In }

// NewChannel adds the input side of connection id.
func (p *InputPort) NewChannel(id string, pol ConnPolicy) *Channel {
    size := pol.Size
    if pol.Type == Data || size <= 0 { size = 1 }
    c := &Channel{id: id, in: p, kind: pol.Type, size: size}
    p.mu.Lock()
    p.chans = append(p.chans, c)
    p.mu.Unlock()
    return c
}

// Channel returns the channel of connection id.
func (p *InputPort) Channel(id string) (*Channel, bool) {
    p.mu.Lock()
    defer p.mu.Unlock()
    for _, c := range p.chans {
        if c.id == id { return c, true }
    }
    return nil, false
}

func (p *InputPort) removeChannel(id string) bool {
    p.mu.Lock()
    defer p.mu.Unlock()
    for i, c := range p.chans {
        if c.id != id { continue }
        p.chans = append(p.chans[:i], p.chans[i+1:]...)
        if p.cur > i || p.cur >= len(p.chans) { p.cur = 0 }
        return true
    }
    return false
}

func (p *InputPort) notify() {
    select {
    case p.signal <- struct{}{}:
    default:
    }
}

// Signal is notified when new data arrives.
func (p *InputPort) Signal() <-chan struct{} { return p.signal }

// Read returns the next sample. Channels are visited round robin starting
// with the last one that produced data; with no new data anywhere, that
// channel's last sample is returned as OldData.
func (p *InputPort) Read() (typekit.Value, FlowStatus) {
    p.mu.Lock()
    defer p.mu.Unlock()
    n := len(p.chans)
    if n == 0 { return typekit.Value{}, NoData }
    for i := 0; i < n; i++ {
        j := (p.cur + i) % n
        if p.chans[j].hasNew() {
            p.cur = j
            return p.chans[j].pop()
        }
    }
    return p.chans[p.cur].pop()
}

// ReadNew returns a sample only when it is new.
func (p *InputPort) ReadNew() (typekit.Value, bool) {
    v, fs := p.Read()
    return v, fs == NewData
}

// Clear empties every channel.
func (p *InputPort) Clear() {
    p.mu.Lock()
    defer p.mu.Unlock()
    for _, c := range p.chans { c.clear() }
}

func (p *InputPort) Connected() bool { p.mu.Lock(); defer p.mu.Unlock(); return len(p.chans) > 0 }

// Connections lists the connection ids.
func (p *InputPort) Connections() []string {
    p.mu.Lock()
    out := make([]string, 0, len(p.chans))
    for _, c := range p.chans { out = append(out, c.id) }
    p.mu.Unlock()
    sort.Strings(out)
    return out
}

// Disconnect drops every channel and tells the writing ends.
func (p *InputPort) Disconnect() {
    p.mu.Lock()
    chans := p.chans
    p.chans = nil
    p.cur = 0
    p.mu.Unlock()
    for _, c := range chans {
        c.mu.Lock()
        f := c.onDisconnect
        c.mu.Unlock()
        if f != nil { f() }
    }
}

// ConnectLocal connects two ports of the same process without marshalling.
func ConnectLocal(out *OutputPort, in *InputPort, pol ConnPolicy) (string, error) {
    if err := pol.Validate(); err != nil { return "", err }
    if out.t.Name != in.t.Name {
        return "", fmt.Errorf("%w: %s is %s, %s is %s", ErrTypeMismatch, out.Path(), out.t.Name, in.Path(), in.t.Name)
    }
    id := uuid.NewString()
    ch := in.NewChannel(id, pol)
    ch.OnDisconnect(func() { out.Detach(id) })
    if err := out.Attach(id, ch, pol.Init); err != nil {
        in.removeChannel(id)
        return "", err
    }
    return id, nil
}
