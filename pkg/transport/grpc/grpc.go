// Package grpc carries frames over one bidirectional gRPC stream per
// session. Each frame travels as a BytesValue message.
package grpc

import (
    "context"
    "net"
    "sync"
    "sync/atomic"
    "time"

    grpclib "google.golang.org/grpc"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/peer"
    "google.golang.org/protobuf/types/known/wrapperspb"

    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/framed"
)

const exchangeMethod = "/typeport.Transport/Exchange"

// maxMsg leaves room for the BytesValue wrapping of the largest frame.
const maxMsg = framed.DefaultMaxFrame + 1024

type exchangeServer interface {
    exchange(grpclib.ServerStream) error
}

var serviceDesc = grpclib.ServiceDesc{
    ServiceName: "typeport.Transport",
    HandlerType: (*exchangeServer)(nil),
    Streams: []grpclib.StreamDesc{{
        StreamName:    "Exchange",
        Handler:       func(srv any, stream grpclib.ServerStream) error { return srv.(exchangeServer).exchange(stream) },
        ServerStreams: true,
        ClientStreams: true,
    }},
    Metadata: "typeport/transport.proto",
}

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindGRPC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    lis, err := net.Listen("tcp", address)
    if err != nil { return nil, err }
    srv := grpclib.NewServer(grpclib.MaxRecvMsgSize(maxMsg))
    gl := &listener{lis: lis, srv: srv, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    srv.RegisterService(&serviceDesc, gl)
    go func() { _ = srv.Serve(lis) }()
    go func() {
        select {
        case <-ctx.Done():
            _ = gl.Close()
        case <-gl.closeCh:
        }
    }()
    return gl, nil
}

func (t *Transport) Dial(ctx context.Context, address string, pi transport.PeerInfo) (transport.Session, error) {
    cc, err := grpclib.NewClient(address,
        grpclib.WithTransportCredentials(insecure.NewCredentials()),
        grpclib.WithDefaultCallOptions(grpclib.MaxCallRecvMsgSize(maxMsg)),
    )
    if err != nil { return nil, err }
    sctx, cancel := context.WithCancel(context.Background())
    stop := context.AfterFunc(ctx, cancel)
    cs, err := cc.NewStream(sctx, &serviceDesc.Streams[0], exchangeMethod, grpclib.WaitForReady(true))
    if err == nil {
        // the server handler starts on the first message or header
        _, err = cs.Header()
    }
    if !stop() || err != nil {
        cancel()
        _ = cc.Close()
        if err == nil { err = ctx.Err() }
        return nil, err
    }
    raddr, _ := net.ResolveTCPAddr("tcp", address)
    s := newSession(pi, cs, nil, raddr)
    s.onClose = func() {
        _ = cs.CloseSend()
        cancel()
        _ = cc.Close()
    }
    return s, nil
}

// ---- Listener ----

type listener struct {
    lis       net.Listener
    srv       *grpclib.Server
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) exchange(stream grpclib.ServerStream) error {
    // Sending the header lets the dialer finish Dial before any frame flows.
    if err := stream.SendHeader(nil); err != nil { return err }
    var raddr net.Addr
    if p, ok := peer.FromContext(stream.Context()); ok { raddr = p.Addr }
    s := newSession(transport.PeerInfo{ID: transport.TempPeerID(transport.KindGRPC, raddr), Addr: addrString(raddr)}, stream, l.lis.Addr(), raddr)
    select {
    case l.newCh <- s:
    case <-l.closeCh:
        return transport.ErrClosed
    case <-stream.Context().Done():
        return stream.Context().Err()
    }
    select {
    case <-s.closed:
    case <-stream.Context().Done():
        s.markClosed()
    }
    return nil
}

func (l *listener) Addr() net.Addr { return l.lis.Addr() }

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
        l.srv.Stop()
    })
    return nil
}

// ---- Session/Stream ----

// msgStream is the part shared by client and server gRPC streams.
type msgStream interface {
    SendMsg(m any) error
    RecvMsg(m any) error
}

type session struct {
    mu     sync.Mutex
    sendMu sync.Mutex
    peer   transport.PeerInfo
    st     msgStream
    laddr  net.Addr
    raddr  net.Addr

    closeOnce     sync.Once
    closed        chan struct{}
    onClose       func()
    establishedAt time.Time
    lastSeen      atomic.Int64
}

func newSession(pi transport.PeerInfo, st msgStream, laddr, raddr net.Addr) *session {
    return &session{peer: pi, st: st, laddr: laddr, raddr: raddr, closed: make(chan struct{}), establishedAt: time.Now()}
}

func (s *session) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindGRPC }
func (s *session) LocalAddr() net.Addr { return s.laddr }
func (s *session) RemoteAddr() net.Addr { return s.raddr }

func (s *session) OpenStream(_ context.Context, _ transport.StreamClass) (transport.Stream, error) { return s, nil }
func (s *session) AcceptStream(_ context.Context) (transport.Stream, error) { return s, nil }

func (s *session) Quality() transport.Quality {
    q := transport.Quality{EstablishedAt: s.establishedAt}
    if ns := s.lastSeen.Load(); ns != 0 { q.LastSeen = time.Unix(0, ns) }
    return q
}

func (s *session) SendBytes(b []byte) error {
    select {
    case <-s.closed:
        return transport.ErrClosed
    default:
    }
    s.sendMu.Lock()
    err := s.st.SendMsg(wrapperspb.Bytes(b))
    s.sendMu.Unlock()
    if err != nil { return err }
    s.lastSeen.Store(time.Now().UnixNano())
    return nil
}

func (s *session) RecvBytes() ([]byte, error) {
    m := new(wrapperspb.BytesValue)
    if err := s.st.RecvMsg(m); err != nil {
        select {
        case <-s.closed:
            return nil, transport.ErrClosed
        default:
        }
        return nil, err
    }
    s.lastSeen.Store(time.Now().UnixNano())
    return m.GetValue(), nil
}

func (s *session) markClosed() { s.closeOnce.Do(func() { close(s.closed) }) }

func (s *session) Close() error {
    s.closeOnce.Do(func() {
        close(s.closed)
        if s.onClose != nil { s.onClose() }
    })
    return nil
}

func addrString(a net.Addr) string {
    if a == nil { return "" }
    return a.String()
}
