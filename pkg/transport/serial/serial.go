// Package serial runs the framed protocol over a point-to-point serial
// line. Addresses name a device plus optional line settings:
//
//	/dev/ttyUSB0?baud=115200&parity=N&data=8&stop=1
//
// A serial line has exactly one peer, so a listener yields one session.
package serial

import (
    "context"
    "fmt"
    "io"
    "net"
    "net/url"
    "strconv"
    "strings"
    "sync"
    "time"

    "go.bug.st/serial"

    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/framed"
)

// Opener opens a serial device. Tests substitute it with in-memory pipes.
type Opener func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openPort(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
    return serial.Open(path, mode)
}

// PortOptions are the line settings taken from the address query.
type PortOptions struct {
    BaudRate int
    DataBits int
    StopBits int
    Parity   string
}

// Normalize applies defaults and validates the settings.
func (o PortOptions) Normalize() (PortOptions, error) {
    if o.BaudRate <= 0 { o.BaudRate = 115200 }
    if o.DataBits == 0 { o.DataBits = 8 }
    if o.DataBits < 5 || o.DataBits > 8 {
        return o, fmt.Errorf("serial: invalid data bits %d: must be between 5 and 8", o.DataBits)
    }
    if o.StopBits == 0 { o.StopBits = 1 }
    if o.StopBits != 1 && o.StopBits != 2 {
        return o, fmt.Errorf("serial: invalid stop bits %d: supported values are 1 or 2", o.StopBits)
    }
    switch strings.ToUpper(strings.TrimSpace(o.Parity)) {
    case "", "N", "NONE":
        o.Parity = "N"
    case "E", "EVEN":
        o.Parity = "E"
    case "O", "ODD":
        o.Parity = "O"
    default:
        return o, fmt.Errorf("serial: unsupported parity %q: expected N, E, or O", o.Parity)
    }
    return o, nil
}

// Mode converts the options for serial.Open.
func (o PortOptions) Mode() (*serial.Mode, error) {
    o, err := o.Normalize()
    if err != nil { return nil, err }
    mode := &serial.Mode{BaudRate: o.BaudRate, DataBits: o.DataBits, StopBits: serial.OneStopBit}
    if o.StopBits == 2 { mode.StopBits = serial.TwoStopBits }
    switch o.Parity {
    case "E":
        mode.Parity = serial.EvenParity
    case "O":
        mode.Parity = serial.OddParity
    default:
        mode.Parity = serial.NoParity
    }
    return mode, nil
}

// ParseAddress splits "path?baud=..." into the device path and options.
func ParseAddress(address string) (string, PortOptions, error) {
    var opts PortOptions
    path, query, _ := strings.Cut(address, "?")
    if path == "" { return "", opts, fmt.Errorf("serial: empty device path") }
    q, err := url.ParseQuery(query)
    if err != nil { return "", opts, fmt.Errorf("serial: bad address %q: %w", address, err) }
    atoi := func(key string) (int, error) {
        v := q.Get(key)
        if v == "" { return 0, nil }
        n, err := strconv.Atoi(v)
        if err != nil { return 0, fmt.Errorf("serial: bad %s %q", key, v) }
        return n, nil
    }
    if opts.BaudRate, err = atoi("baud"); err != nil { return "", opts, err }
    if opts.DataBits, err = atoi("data"); err != nil { return "", opts, err }
    if opts.StopBits, err = atoi("stop"); err != nil { return "", opts, err }
    opts.Parity = q.Get("parity")
    opts, err = opts.Normalize()
    return path, opts, err
}

type Transport struct {
    Open Opener
}

func New() *Transport { return &Transport{Open: openPort} }

func (t *Transport) Kind() transport.Kind { return transport.KindSerial }

func (t *Transport) open(address string) (io.ReadWriteCloser, string, error) {
    path, opts, err := ParseAddress(address)
    if err != nil { return nil, "", err }
    mode, err := opts.Mode()
    if err != nil { return nil, "", err }
    open := t.Open
    if open == nil { open = openPort }
    rw, err := open(path, mode)
    if err != nil { return nil, "", err }
    return rw, path, nil
}

// Listen opens the device and offers its single session to Accept.
func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    rw, path, err := t.open(address)
    if err != nil { return nil, err }
    l := &listener{addr: portAddr(path), newCh: make(chan *session, 1), closeCh: make(chan struct{})}
    l.newCh <- newSession(transport.PeerInfo{ID: transport.TempPeerID(transport.KindSerial, portAddr(path)), Addr: path}, rw, path)
    go func() {
        select {
        case <-ctx.Done():
            _ = l.Close()
        case <-l.closeCh:
        }
    }()
    return l, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    rw, path, err := t.open(address)
    if err != nil { return nil, err }
    return newSession(peer, rw, path), nil
}

type listener struct {
    addr      portAddr
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.addr }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, transport.ErrClosed
    case s := <-l.newCh:
        return s, nil
    }
}

// Close stops accepting. A session not yet accepted is closed with it.
func (l *listener) Close() error {
    l.closeOnce.Do(func() {
        close(l.closeCh)
        select {
        case s := <-l.newCh:
            _ = s.Close()
        default:
        }
    })
    return nil
}

type portAddr string

func (a portAddr) Network() string { return "serial" }
func (a portAddr) String() string  { return string(a) }

type session struct {
    mu   sync.Mutex
    peer transport.PeerInfo
    path string
    *framed.Conn
    establishedAt time.Time
}

func newSession(peer transport.PeerInfo, rw io.ReadWriteCloser, path string) *session {
    return &session{peer: peer, path: path, Conn: framed.New(rw, 0), establishedAt: time.Now()}
}

func (s *session) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindSerial }
func (s *session) LocalAddr() net.Addr { return portAddr(s.path) }
func (s *session) RemoteAddr() net.Addr { return portAddr(s.path) }

func (s *session) OpenStream(_ context.Context, _ transport.StreamClass) (transport.Stream, error) { return s, nil }
func (s *session) AcceptStream(_ context.Context) (transport.Stream, error) { return s, nil }
func (s *session) Quality() transport.Quality { return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.LastSeen()} }
