package transport

import (
    "context"
    "errors"
    "net"
    "strings"
    "time"
)

// ErrClosed is returned by streams and listeners after Close.
var ErrClosed = errors.New("transport: closed")

// Kind identifies transport/link type for policy decisions.
type Kind int

const (
    KindUnknown Kind = iota
    KindMem
    KindTCP
    KindUDP
    KindQUIC
    KindGRPC
    KindSerial
    KindWinPipe
)

func (k Kind) String() string {
    switch k {
    case KindMem:
        return "mem"
    case KindTCP:
        return "tcp"
    case KindUDP:
        return "udp"
    case KindQUIC:
        return "quic"
    case KindGRPC:
        return "grpc"
    case KindSerial:
        return "serial"
    case KindWinPipe:
        return "winpipe"
    default:
        return "unknown"
    }
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "mem":
        return KindMem
    case "tcp":
        return KindTCP
    case "udp":
        return KindUDP
    case "quic":
        return KindQUIC
    case "grpc":
        return KindGRPC
    case "serial":
        return KindSerial
    case "winpipe":
        return KindWinPipe
    default:
        return KindUnknown
    }
}

// StreamClass labels multiplexed streams within a session.
type StreamClass int

const (
    StreamControl StreamClass = iota
    StreamData
)

// PeerID is an opaque stable peer identity (process name or public key id).
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
    ID        PeerID
    Addr      string // transport-dependent address string
    Reachable bool   // best-effort reachability
}

// Quality captures link metrics used by the manager to rank sessions.
type Quality struct {
    RTT           time.Duration
    EstablishedAt time.Time
    LastSeen      time.Time
}

// Stream is a bidirectional frame stream.
// Exactly one reader and one writer goroutine are expected.
type Stream interface {
    // SendBytes sends one frame as opaque bytes.
    SendBytes([]byte) error
    // RecvBytes receives the next frame and returns its bytes.
    RecvBytes() ([]byte, error)
    Close() error
}

// FrameLimiter is implemented by streams that cannot carry arbitrarily
// large frames (datagram transports). Larger envelopes must be fragmented.
type FrameLimiter interface {
    MaxFrameSize() int
}

// Session represents a connection to a remote process with optional multiplexed streams.
type Session interface {
    Peer() PeerInfo
    TransportKind() Kind
    LocalAddr() net.Addr
    RemoteAddr() net.Addr

    // OpenStream opens/returns a stream of the given class. Transports without
    // multiplexing return a single shared stream for all classes.
    OpenStream(ctx context.Context, cls StreamClass) (Stream, error)

    // AcceptStream waits for the next inbound stream. Transports without
    // native streams return the default stream.
    AcceptStream(ctx context.Context) (Stream, error)

    // Quality snapshot for ranking/monitoring.
    Quality() Quality

    // Close closes the entire session.
    Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
    // Accept blocks until an inbound session is available or ctx is done.
    Accept(ctx context.Context) (Session, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound sessions on address (transport-specific
    // format). The listener is closed when ctx is done.
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial creates an outbound session to a peer/address. ctx bounds the
    // dial only; the session lives until Close.
    Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}
