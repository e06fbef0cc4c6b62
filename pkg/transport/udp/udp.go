package udp

import (
    "context"
    "fmt"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "github.com/rock-core/base-orogen-std/pkg/transport"
)

// DefaultMaxDatagram keeps frames under a typical Ethernet MTU.
const DefaultMaxDatagram = 1200

const rxQueue = 256

// UDPTransport implements a datagram transport carrying single-envelope frames.
// It does not support true multiplexed streams; one logical default stream is used.
// Frames larger than MaxDatagram are refused; senders fragment above it.
type UDPTransport struct {
    MaxDatagram int
}

func New() *UDPTransport { return &UDPTransport{MaxDatagram: DefaultMaxDatagram} }

func (t *UDPTransport) Kind() transport.Kind { return transport.KindUDP }

func (t *UDPTransport) maxDatagram() int {
    if t.MaxDatagram <= 0 { return DefaultMaxDatagram }
    return t.MaxDatagram
}

func (t *UDPTransport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    laddr, err := net.ResolveUDPAddr("udp", address)
    if err != nil { return nil, err }
    c, err := net.ListenUDP("udp", laddr)
    if err != nil { return nil, err }
    ul := &udpListener{
        conn:     c,
        max:      t.maxDatagram(),
        sessions: make(map[string]*udpSession),
        newCh:    make(chan *udpSession, 8),
        closeCh:  make(chan struct{}),
    }
    go ul.readLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = ul.Close()
        case <-ul.closeCh:
        }
    }()
    return ul, nil
}

func (t *UDPTransport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    raddr, err := net.ResolveUDPAddr("udp", address)
    if err != nil { return nil, err }
    var d net.Dialer
    nc, err := d.DialContext(ctx, "udp", raddr.String())
    if err != nil { return nil, err }
    s := newSession(peer, nc.(*net.UDPConn), raddr, t.maxDatagram())
    s.outbound = true
    // reader for connected UDP socket
    go s.recvLoop()
    return s, nil
}

// ---- Listener/demux ----

type udpListener struct {
    conn      *net.UDPConn
    max       int
    mu        sync.Mutex
    sessions  map[string]*udpSession
    newCh     chan *udpSession
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *udpListener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *udpListener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, transport.ErrClosed
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *udpListener) Close() error {
    var err error
    l.closeOnce.Do(func() {
        close(l.closeCh)
        err = l.conn.Close()
        l.mu.Lock()
        for _, s := range l.sessions { s.markClosed() }
        l.sessions = map[string]*udpSession{}
        l.mu.Unlock()
    })
    return err
}

func (l *udpListener) forget(key string, s *udpSession) {
    l.mu.Lock()
    if l.sessions[key] == s { delete(l.sessions, key) }
    l.mu.Unlock()
}

func (l *udpListener) readLoop() {
    buf := make([]byte, 64*1024)
    for {
        n, raddr, err := l.conn.ReadFromUDP(buf)
        if err != nil { return }
        key := raddr.String()
        l.mu.Lock()
        s, ok := l.sessions[key]
        if !ok {
            s = newSession(transport.PeerInfo{ID: transport.TempPeerID(transport.KindUDP, raddr), Addr: key}, l.conn, raddr, l.max)
            s.onClose = func() { l.forget(key, s) }
            select {
            case l.newCh <- s:
                l.sessions[key] = s
            default:
                // accept backlog full; drop the datagram, the peer retries
                l.mu.Unlock()
                continue
            }
        }
        l.mu.Unlock()
        // copy out payload and dispatch
        pkt := make([]byte, n)
        copy(pkt, buf[:n])
        s.deliver(pkt)
    }
}

// ---- Session/Stream ----

type udpSession struct {
    mu            sync.Mutex
    peer          transport.PeerInfo
    conn          *net.UDPConn
    raddr         *net.UDPAddr
    max           int
    outbound      bool
    rxCh          chan []byte
    closeOnce     sync.Once
    closed        chan struct{}
    onClose       func()
    establishedAt time.Time
    lastSeen      atomic.Int64
}

func newSession(peer transport.PeerInfo, c *net.UDPConn, raddr *net.UDPAddr, max int) *udpSession {
    return &udpSession{
        peer:          peer,
        conn:          c,
        raddr:         raddr,
        max:           max,
        rxCh:          make(chan []byte, rxQueue),
        closed:        make(chan struct{}),
        establishedAt: time.Now(),
    }
}

func (s *udpSession) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *udpSession) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *udpSession) TransportKind() transport.Kind { return transport.KindUDP }
func (s *udpSession) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *udpSession) RemoteAddr() net.Addr { return s.raddr }

func (s *udpSession) OpenStream(ctx context.Context, _ transport.StreamClass) (transport.Stream, error) {
    return &udpStream{s: s}, nil
}

func (s *udpSession) AcceptStream(ctx context.Context) (transport.Stream, error) {
    // UDP has only one logical stream
    return s.OpenStream(ctx, transport.StreamControl)
}

func (s *udpSession) Quality() transport.Quality {
    q := transport.Quality{EstablishedAt: s.establishedAt}
    if ns := s.lastSeen.Load(); ns != 0 { q.LastSeen = time.Unix(0, ns) }
    return q
}

func (s *udpSession) deliver(pkt []byte) {
    select {
    case s.rxCh <- pkt:
    case <-s.closed:
    default:
        // receiver is behind; datagram semantics allow the drop
    }
}

func (s *udpSession) recvLoop() {
    buf := make([]byte, 64*1024)
    for {
        n, err := s.conn.Read(buf)
        if err != nil {
            select {
            case <-s.closed:
                return
            default:
            }
            // ICMP port unreachable surfaces as a read error on connected sockets
            if ne, ok := err.(net.Error); ok && ne.Timeout() { continue }
            _ = s.Close()
            return
        }
        pkt := make([]byte, n)
        copy(pkt, buf[:n])
        s.deliver(pkt)
    }
}

func (s *udpSession) markClosed() {
    s.closeOnce.Do(func() { close(s.closed) })
}

func (s *udpSession) Close() error {
    var err error
    s.closeOnce.Do(func() {
        close(s.closed)
        if s.outbound {
            err = s.conn.Close()
        }
        if s.onClose != nil { s.onClose() }
    })
    return err
}

type udpStream struct { s *udpSession }

func (st *udpStream) MaxFrameSize() int { return st.s.max }

func (st *udpStream) SendBytes(b []byte) error {
    if len(b) > st.s.max { return fmt.Errorf("udp: frame of %d bytes exceeds datagram budget %d", len(b), st.s.max) }
    select {
    case <-st.s.closed:
        return transport.ErrClosed
    default:
    }
    var err error
    if !st.s.outbound {
        _, err = st.s.conn.WriteToUDP(b, st.s.raddr)
    } else {
        _, err = st.s.conn.Write(b)
    }
    if err == nil { st.s.lastSeen.Store(time.Now().UnixNano()) }
    return err
}

func (st *udpStream) RecvBytes() ([]byte, error) {
    select {
    case pkt := <-st.s.rxCh:
        st.s.lastSeen.Store(time.Now().UnixNano())
        return pkt, nil
    case <-st.s.closed:
        return nil, transport.ErrClosed
    }
}

func (st *udpStream) Close() error { return nil }
