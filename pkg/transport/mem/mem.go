package mem

import (
    "context"
    "errors"
    "net"
    "sync"
    "time"

    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/framed"
)

// Hub is a namespace of in-process listeners.
type Hub struct {
    mu        sync.Mutex
    listeners map[string]*listener
}

func NewHub() *Hub { return &Hub{listeners: make(map[string]*listener)} }

var defaultHub = NewHub()

// Transport is an in-process transport using net.Pipe. Every Transport
// created by New shares one hub, so separate processes hosted in the same
// Go program can reach each other by listener name.
type Transport struct{ hub *Hub }

func New() *Transport { return &Transport{hub: defaultHub} }

// NewWithHub uses an isolated hub.
func NewWithHub(h *Hub) *Transport { return &Transport{hub: h} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    h := t.hub
    h.mu.Lock(); defer h.mu.Unlock()
    if _, ok := h.listeners[name]; ok {
        return nil, errors.New("mem: listener already exists")
    }
    l := &listener{name: name, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    l.remove = func() {
        h.mu.Lock()
        if h.listeners[name] == l { delete(h.listeners, name) }
        h.mu.Unlock()
    }
    h.listeners[name] = l
    go func() {
        select {
        case <-ctx.Done():
            _ = l.Close()
        case <-l.closeCh:
        }
    }()
    return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
    t.hub.mu.Lock(); l := t.hub.listeners[name]; t.hub.mu.Unlock()
    if l == nil { return nil, errors.New("mem: no such listener") }
    c1, c2 := net.Pipe()
    // server side session goes to listener
    srv := newSession(transport.PeerInfo{ID: peer.ID, Addr: name}, c1)
    cli := newSession(peer, c2)
    select {
    case l.newCh <- srv:
        return cli, nil
    case <-l.closeCh:
    case <-ctx.Done():
    }
    _ = srv.Close()
    _ = cli.Close()
    if ctx.Err() != nil { return nil, ctx.Err() }
    return nil, errors.New("mem: listener closed")
}

type listener struct {
    name      string
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
    remove    func()
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

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

func (l *listener) Close() error {
    l.closeOnce.Do(func() {
        close(l.closeCh)
        l.remove()
    })
    return nil
}

type memAddr string
func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type session struct {
    mu   sync.Mutex
    peer transport.PeerInfo
    c    net.Conn
    *framed.Conn
    establishedAt time.Time
}

func newSession(peer transport.PeerInfo, c net.Conn) *session {
    return &session{peer: peer, c: c, Conn: framed.New(c, 0), establishedAt: time.Now()}
}

func (s *session) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindMem }
func (s *session) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *session) OpenStream(_ context.Context, _ transport.StreamClass) (transport.Stream, error) { return s, nil }
func (s *session) AcceptStream(_ context.Context) (transport.Stream, error) { return s, nil }
func (s *session) Quality() transport.Quality { return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.LastSeen()} }
