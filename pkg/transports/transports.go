// Package transports is the table of transports a port connection can
// select, and the factory for their backends.
package transports

import (
    "fmt"
    "sort"
    "strconv"
    "strings"

    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/mem"
    grpct "github.com/rock-core/base-orogen-std/pkg/transport/grpc"
    tquic "github.com/rock-core/base-orogen-std/pkg/transport/quic"
    "github.com/rock-core/base-orogen-std/pkg/transport/serial"
    ttcp "github.com/rock-core/base-orogen-std/pkg/transport/tcp"
    "github.com/rock-core/base-orogen-std/pkg/transport/udp"
)

// ID selects a transport for a connection.
type ID int

const (
    Local ID = iota // same process, no marshalling
    Mem
    TCP
    UDP
    QUIC
    GRPC
    Serial
    WinPipe
    Stream // pub/sub topic, endpoints found through the directory
)

var names = map[ID]string{
    Local:   "LOCAL",
    Mem:     "MEM",
    TCP:     "TCP",
    UDP:     "UDP",
    QUIC:    "QUIC",
    GRPC:    "GRPC",
    Serial:  "SERIAL",
    WinPipe: "WINPIPE",
    Stream:  "STREAM",
}

func (id ID) String() string {
    if n, ok := names[id]; ok { return n }
    return "ID(" + strconv.Itoa(int(id)) + ")"
}

// Available reports whether the transport exists on this platform.
func (id ID) Available() bool {
    if id == WinPipe { return winPipeAvailable() }
    _, ok := names[id]
    return ok
}

// Names is the table of available transports by id.
func Names() map[ID]string {
    out := make(map[ID]string, len(names))
    for id, n := range names {
        if id.Available() { out[id] = n }
    }
    return out
}

// IDs lists the available transports in id order.
func IDs() []ID {
    out := make([]ID, 0, len(names))
    for id := range Names() { out = append(out, id) }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// IsStream reports whether connections over id are made by creating a
// stream with the same topic on both ends.
func IsStream(id ID) bool { return id == Stream }

// ParseID accepts a transport name in any case or its number.
func ParseID(s string) (ID, error) {
    s = strings.TrimSpace(s)
    if n, err := strconv.Atoi(s); err == nil {
        id := ID(n)
        if _, ok := names[id]; ok { return id, nil }
        return 0, fmt.Errorf("transports: unknown transport id %d", n)
    }
    up := strings.ToUpper(s)
    for id, n := range names {
        if n == up { return id, nil }
    }
    return 0, fmt.Errorf("transports: unknown transport %q", s)
}

// Kind maps the id to its link kind. Local and Stream have none.
func (id ID) Kind() transport.Kind {
    switch id {
    case Mem:
        return transport.KindMem
    case TCP:
        return transport.KindTCP
    case UDP:
        return transport.KindUDP
    case QUIC:
        return transport.KindQUIC
    case GRPC:
        return transport.KindGRPC
    case Serial:
        return transport.KindSerial
    case WinPipe:
        return transport.KindWinPipe
    default:
        return transport.KindUnknown
    }
}

// FromKind is the inverse of ID.Kind.
func FromKind(k transport.Kind) ID {
    for id := range names {
        if id.Kind() == k && k != transport.KindUnknown { return id }
    }
    return Local
}

// DefaultFormat is the payload format used when a policy leaves it unset.
func DefaultFormat(id ID) protocol.Format {
    switch id {
    case UDP, QUIC:
        return protocol.FormatCBOR
    case GRPC:
        return protocol.FormatProto
    case Stream:
        return protocol.FormatJSON
    default:
        return protocol.FormatBinary
    }
}

// DefaultAddress is where a process listens for id when the configuration
// names none.
func DefaultAddress(id ID, process string) string {
    switch id {
    case Mem:
        return "typeport/" + process
    case WinPipe:
        return `\\.\pipe\typeport-` + process
    default:
        return "127.0.0.1:0"
    }
}

// New constructs the backend for id.
func New(id ID) (transport.Transport, error) {
    switch id {
    case Mem:
        return mem.New(), nil
    case TCP:
        return ttcp.New(), nil
    case UDP:
        return udp.New(), nil
    case QUIC:
        return tquic.New(), nil
    case GRPC:
        return grpct.New(), nil
    case Serial:
        return serial.New(), nil
    case WinPipe:
        return newWinPipeTransport()
    default:
        return nil, ErrUnknownKind(id.String())
    }
}

// NewByKind constructs a Transport by string kind.
func NewByKind(kind string) (transport.Transport, error) {
    switch strings.ToLower(strings.TrimSpace(kind)) {
    case "udp":
        return New(UDP)
    case "tcp":
        return New(TCP)
    case "quic", "h3", "http3":
        return New(QUIC)
    case "grpc":
        return New(GRPC)
    case "serial", "tty":
        return New(Serial)
    case "mem", "inproc", "shared":
        return New(Mem)
    case "winpipe", "pipe":
        return New(WinPipe)
    default:
        return nil, ErrUnknownKind(kind)
    }
}

// ErrUnknownKind names a transport kind with no backend.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }
