package port

import (
    "sync"
    "sync/atomic"

    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

// FlowStatus tells what a Read returned.
type FlowStatus int

const (
    NoData FlowStatus = iota
    OldData
    NewData
)

func (f FlowStatus) String() string {
    switch f {
    case OldData:
        return "OldData"
    case NewData:
        return "NewData"
    default:
        return "NoData"
    }
}

// Channel is the input side of one connection. It is the Sink local
// connections write into; remote connections push decoded samples into it.
type Channel struct {
    id   string
    in   *InputPort
    kind ChannelType
    size int

    mu      sync.Mutex
    buf     []typekit.Value
    last    typekit.Value
    hasLast bool
    fresh   bool
    dropped atomic.Uint64

    onDisconnect func()
}

// ID is the connection id the channel belongs to.
func (c *Channel) ID() string { return c.id }

// Dropped counts samples lost to a full buffer.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// OnDisconnect registers f to run when the input port drops the channel.
func (c *Channel) OnDisconnect(f func()) { c.mu.Lock(); c.onDisconnect = f; c.mu.Unlock() }

// Push stores a sample according to the channel type and wakes readers.
func (c *Channel) Push(v typekit.Value) error {
    if err := checkType(c.in.t, v); err != nil { return err }
    c.mu.Lock()
    switch c.kind {
    case Data:
        c.last, c.hasLast, c.fresh = v, true, true
    case Buffer:
        if len(c.buf) >= c.size {
            c.mu.Unlock()
            c.dropped.Add(1)
            return nil
        }
        c.buf = append(c.buf, v)
    case Circular:
        if len(c.buf) >= c.size {
            c.buf[0] = typekit.Value{}
            c.buf = c.buf[1:]
            c.dropped.Add(1)
        }
        c.buf = append(c.buf, v)
    }
    c.mu.Unlock()
    c.in.notify()
    return nil
}

// Close removes the channel from its input port.
func (c *Channel) Close() error {
    c.in.removeChannel(c.id)
    return nil
}

func (c *Channel) hasNew() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.kind == Data { return c.fresh }
    return len(c.buf) > 0
}

// pop returns the next sample; once drained, the last one read is
// returned as OldData.
func (c *Channel) pop() (typekit.Value, FlowStatus) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.kind == Data {
        if !c.hasLast { return typekit.Value{}, NoData }
        if c.fresh {
            c.fresh = false
            return c.last, NewData
        }
        return c.last, OldData
    }
    if len(c.buf) > 0 {
        v := c.buf[0]
        c.buf[0] = typekit.Value{}
        c.buf = c.buf[1:]
        c.last, c.hasLast = v, true
        return v, NewData
    }
    if c.hasLast { return c.last, OldData }
    return typekit.Value{}, NoData
}

func (c *Channel) clear() {
    c.mu.Lock()
    c.buf = nil
    c.last, c.hasLast, c.fresh = typekit.Value{}, false, false
    c.mu.Unlock()
}
