package quic

import (
    "context"
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "math/big"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/framed"
)

const alpn = "typeport"

// Transport implements QUIC-based sessions with length-prefixed frames per stream.
// It exposes a single default stream (opened by the dialer; accepted by the listener).
type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

func New() *Transport {
    // Ephemeral self-signed certificate for the server side; peers are
    // authenticated by the signed hello of the connection handshake.
    cert, _ := selfSignedCert()
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpn},
        MinVersion:   tls.VersionTLS13,
    }
    qconf := &quicgo.Config{
        KeepAlivePeriod: 5 * time.Second,
        MaxIdleTimeout:  30 * time.Second,
    }
    return &Transport{tlsConf: tlsConf, quicConf: qconf}
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    lctx, cancel := context.WithCancel(ctx)
    ql := &listener{l: l, cancel: cancel, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go ql.acceptLoop(lctx)
    go func() { <-lctx.Done(); _ = ql.Close() }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: true, // identity is verified by the signed hello
        NextProtos:         []string{alpn},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    return &session{peer: peer, c: c, establishedAt: time.Now()}, nil
}

// ---- Listener ----

type listener struct {
    l         *quicgo.Listener
    cancel    context.CancelFunc
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

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
    var err error
    l.closeOnce.Do(func() {
        close(l.closeCh)
        l.cancel()
        err = l.l.Close()
    })
    return err
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        c, err := l.l.Accept(ctx)
        if err != nil { return }
        raddr := c.RemoteAddr()
        s := &session{
            peer:          transport.PeerInfo{ID: transport.TempPeerID(transport.KindQUIC, raddr), Addr: raddr.String(), Reachable: true},
            c:             c,
            inbound:       true,
            establishedAt: time.Now(),
        }
        select {
        case l.newCh <- s:
        case <-l.closeCh:
            _ = s.Close()
            return
        }
    }
}

// ---- Session/Streams ----

type session struct {
    mu     sync.Mutex
    openMu sync.Mutex
    peer   transport.PeerInfo
    c      quicgo.Connection

    inbound       bool
    establishedAt time.Time
    def           *qstream
}

func (s *session) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindQUIC }
func (s *session) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

// OpenStream returns the default stream: opened on the dialing side,
// accepted on the listening side.
func (s *session) OpenStream(ctx context.Context, _ transport.StreamClass) (transport.Stream, error) {
    s.openMu.Lock()
    defer s.openMu.Unlock()
    s.mu.Lock()
    def := s.def
    s.mu.Unlock()
    if def != nil { return def, nil }
    var (
        qs  quicgo.Stream
        err error
    )
    if s.inbound {
        qs, err = s.c.AcceptStream(ctx)
    } else {
        qs, err = s.c.OpenStreamSync(ctx)
    }
    if err != nil { return nil, err }
    def = &qstream{Conn: framed.New(qs, 0), qs: qs}
    s.mu.Lock()
    s.def = def
    s.mu.Unlock()
    return def, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
    return s.OpenStream(ctx, transport.StreamControl)
}

func (s *session) Quality() transport.Quality {
    q := transport.Quality{EstablishedAt: s.establishedAt}
    s.mu.Lock()
    if s.def != nil { q.LastSeen = s.def.LastSeen() }
    s.mu.Unlock()
    return q
}

func (s *session) Close() error { return s.c.CloseWithError(0, "") }

// qstream implements transport.Stream over a QUIC bidirectional stream with u32 LE framing.
type qstream struct {
    *framed.Conn
    qs quicgo.Stream
}

func (st *qstream) Close() error {
    st.qs.CancelRead(0)
    return st.qs.Close()
}

// ---- Helpers ----

// selfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber: big.NewInt(time.Now().UnixNano()),
        NotBefore:    time.Now().Add(-time.Minute),
        NotAfter:     time.Now().Add(24 * time.Hour),
        KeyUsage:     x509.KeyUsageDigitalSignature,
        ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        DNSNames:     []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
    return cert, nil
}
