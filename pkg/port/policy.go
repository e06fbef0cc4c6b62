package port

import (
    "fmt"
    "strings"

    "github.com/rock-core/base-orogen-std/pkg/dispatch"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/transports"
)

// ChannelType selects how an input channel stores samples.
type ChannelType int

const (
    // Data keeps only the latest sample.
    Data ChannelType = iota
    // Buffer is a bounded FIFO that refuses new samples when full.
    Buffer
    // Circular is a bounded FIFO that drops the oldest sample when full.
    Circular
)

func (c ChannelType) String() string {
    switch c {
    case Buffer:
        return "buffer"
    case Circular:
        return "circular"
    default:
        return "data"
    }
}

// ParseChannelType accepts "data", "buffer" and "circular".
func ParseChannelType(s string) (ChannelType, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "", "data":
        return Data, nil
    case "buffer", "fifo":
        return Buffer, nil
    case "circular", "ring":
        return Circular, nil
    default:
        return Data, fmt.Errorf("port: unknown channel type %q", s)
    }
}

// ConnPolicy describes a connection between an output and an input port.
type ConnPolicy struct {
    Type      ChannelType
    Size      int  // buffer capacity, Buffer and Circular only
    Init      bool // deliver the last written sample on connect
    Transport transports.ID
    NameID    string          // stream topic for transports.Stream
    Format    protocol.Format // zero selects the transport default
    Priority  dispatch.Class
    RateLimit float64 // samples per second, 0 is unlimited
}

// DefaultPolicy is a data connection within the process.
func DefaultPolicy() ConnPolicy { return ConnPolicy{Type: Data, Transport: transports.Local, Priority: dispatch.Realtime} }

// Validate checks the policy and fills the transport's default format.
func (p *ConnPolicy) Validate() error {
    switch p.Type {
    case Data:
        p.Size = 1
    case Buffer, Circular:
        if p.Size <= 0 { return fmt.Errorf("port: %s policy needs a positive size, got %d", p.Type, p.Size) }
    default:
        return fmt.Errorf("port: invalid channel type %d", int(p.Type))
    }
    if !p.Transport.Available() { return fmt.Errorf("port: transport %v is not available", p.Transport) }
    if transports.IsStream(p.Transport) && p.NameID == "" { return fmt.Errorf("port: stream connections need a topic name") }
    if p.Format == protocol.FormatUnknown { p.Format = transports.DefaultFormat(p.Transport) }
    if p.Format > protocol.FormatBinary { return fmt.Errorf("port: invalid format %d", p.Format) }
    if p.RateLimit < 0 { return fmt.Errorf("port: negative rate limit") }
    if p.Priority < dispatch.Control || p.Priority > dispatch.Bulk { return fmt.Errorf("port: invalid priority %d", p.Priority) }
    return nil
}

// Wire is the part of the policy the accepting side needs.
func (p ConnPolicy) Wire() protocol.Policy {
    return protocol.Policy{Type: p.Type.String(), Size: p.Size, Init: p.Init}
}

// FromWire rebuilds the channel part of a policy received from a peer.
func FromWire(w protocol.Policy) (ConnPolicy, error) {
    t, err := ParseChannelType(w.Type)
    if err != nil { return ConnPolicy{}, err }
    p := ConnPolicy{Type: t, Size: w.Size, Init: w.Init}
    if t == Data { p.Size = 1 }
    if t != Data && p.Size <= 0 { return ConnPolicy{}, fmt.Errorf("port: %s policy needs a positive size", t) }
    return p, nil
}
