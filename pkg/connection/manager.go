// Package connection connects output ports to input ports across
// processes. A Manager listens on transports, dials peers, runs the
// open/ack handshake and carries samples over shared sessions.
package connection

import (
    "context"
    "crypto/ed25519"
    "errors"
    "fmt"
    "sort"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/directory"
    "github.com/rock-core/base-orogen-std/pkg/handshake"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transports"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

// Options configure a Manager. Zero values select the defaults.
type Options struct {
    Process string
    Types   *typekit.Registry
    Codecs  *codec.Registry
    // Transports overrides the backend per kind; missing kinds are built
    // with transports.New.
    Transports map[transport.Kind]transport.Transport
    Directory  directory.Directory

    Identity      ed25519.PrivateKey // signs handshakes when set
    RequireSigned bool
    MaxSkew       time.Duration

    AckTimeout        time.Duration
    HeartbeatInterval time.Duration
    IdleTimeout       time.Duration

    // Resolve finds the input port an Open request targets.
    Resolve func(path string) (*port.InputPort, bool)
}

func (o Options) withDefaults() (Options, error) {
    if o.Process == "" { o.Process = "typeport" }
    if o.Types == nil { o.Types = typekit.Default() }
    if o.Codecs == nil {
        r, err := codec.NewDefaultRegistry()
        if err != nil { return o, err }
        o.Codecs = r
    }
    if o.Directory == nil { o.Directory = directory.Shared() }
    if o.MaxSkew <= 0 { o.MaxSkew = 5 * time.Minute }
    if o.AckTimeout <= 0 { o.AckTimeout = 5 * time.Second }
    if o.HeartbeatInterval < 0 { o.HeartbeatInterval = 0 }
    if o.HeartbeatInterval == 0 { o.HeartbeatInterval = 2 * time.Second }
    if o.IdleTimeout <= 0 { o.IdleTimeout = 5 * o.HeartbeatInterval }
    return o, nil
}

type listening struct {
    ln transport.Listener
    ep transport.Endpoint
}

// Manager owns listeners, links and the connections they carry.
type Manager struct {
    opts     Options
    codecs   *codec.Registry
    ctx      context.Context
    cancel   context.CancelFunc
    sessions *transport.Manager

    mu         sync.Mutex
    closed     bool
    transports map[transport.Kind]transport.Transport
    listeners  map[transport.Kind]*listening
    links      map[*link]struct{}
    bySession  map[transport.Session]*link
    inputs     map[string]*port.InputPort
    encoders   map[*port.OutputPort]*encoder
    pubs       map[string]*publication
    subs       map[*port.InputPort][]*subscription
}

func New(opts Options) (*Manager, error) {
    opts, err := opts.withDefaults()
    if err != nil { return nil, err }
    ctx, cancel := context.WithCancel(context.Background())
    m := &Manager{
        opts: opts, codecs: opts.Codecs, ctx: ctx, cancel: cancel,
        sessions:   transport.NewManager(),
        transports: make(map[transport.Kind]transport.Transport),
        listeners:  make(map[transport.Kind]*listening),
        links:      make(map[*link]struct{}),
        bySession:  make(map[transport.Session]*link),
        inputs:     make(map[string]*port.InputPort),
        encoders:   make(map[*port.OutputPort]*encoder),
        pubs:       make(map[string]*publication),
        subs:       make(map[*port.InputPort][]*subscription),
    }
    for k, t := range opts.Transports { m.transports[k] = t }
    return m, nil
}

func (m *Manager) Process() string { return m.opts.Process }

func (m *Manager) transportFor(kind transport.Kind) (transport.Transport, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if t := m.transports[kind]; t != nil { return t, nil }
    id := transports.FromKind(kind)
    if id == transports.Local { return nil, transports.ErrUnknownKind(kind.String()) }
    t, err := transports.New(id)
    if err != nil { return nil, err }
    m.transports[kind] = t
    return t, nil
}

// Listen starts accepting connections over id. An empty address selects
// the default address of the transport. Listening twice on the same
// transport returns the existing endpoint.
func (m *Manager) Listen(ctx context.Context, id transports.ID, address string) (transport.Endpoint, error) {
    kind := id.Kind()
    if kind == transport.KindUnknown { return transport.Endpoint{}, fmt.Errorf("connection: transport %v has no listener", id) }
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return transport.Endpoint{}, ErrClosed
    }
    if l := m.listeners[kind]; l != nil {
        m.mu.Unlock()
        return l.ep, nil
    }
    m.mu.Unlock()

    tr, err := m.transportFor(kind)
    if err != nil { return transport.Endpoint{}, err }
    if address == "" { address = transports.DefaultAddress(id, m.opts.Process) }
    ln, err := tr.Listen(m.ctx, address)
    if err != nil { return transport.Endpoint{}, fmt.Errorf("connection: listen %s %s: %w", kind, address, err) }
    ep := transport.Endpoint{Kind: kind, Address: address}
    switch kind {
    case transport.KindTCP, transport.KindUDP, transport.KindQUIC, transport.KindGRPC:
        ep.Address = ln.Addr().String()
    }

    m.mu.Lock()
    if prev := m.listeners[kind]; prev != nil || m.closed {
        m.mu.Unlock()
        _ = ln.Close()
        if prev != nil { return prev.ep, nil }
        return transport.Endpoint{}, ErrClosed
    }
    m.listeners[kind] = &listening{ln: ln, ep: ep}
    pubs := m.publicationsLocked()
    m.mu.Unlock()

    zap.L().Info("listening", zap.String("endpoint", ep.String()))
    go m.acceptLoop(ln)
    // publications advertise every endpoint
    for _, p := range pubs { m.advertise(ctx, p) }
    return ep, nil
}

// Endpoint returns the endpoint listening for kind.
func (m *Manager) Endpoint(kind transport.Kind) (transport.Endpoint, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    l := m.listeners[kind]
    if l == nil { return transport.Endpoint{}, false }
    return l.ep, true
}

// Endpoints lists the listening endpoints, best ranked first.
func (m *Manager) Endpoints() []string {
    m.mu.Lock()
    eps := make([]transport.Endpoint, 0, len(m.listeners))
    for _, l := range m.listeners { eps = append(eps, l.ep) }
    m.mu.Unlock()
    transport.SortEndpoints(eps)
    out := make([]string, len(eps))
    for i, ep := range eps { out[i] = ep.String() }
    return out
}

func (m *Manager) acceptLoop(ln transport.Listener) {
    for {
        s, err := ln.Accept(m.ctx)
        if err != nil {
            if m.ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
                zap.L().Warn("accept failed", zap.Stringer("addr", ln.Addr()), zap.Error(err))
            }
            return
        }
        go m.serve(s)
    }
}

func (m *Manager) serve(s transport.Session) {
    st, err := s.AcceptStream(m.ctx)
    if err != nil {
        zap.L().Debug("accept stream", zap.Error(err))
        _ = s.Close()
        return
    }
    l := newLink(m, "", s, st)
    if !m.track(l) {
        _ = s.Close()
        return
    }
    l.start()
}

func (m *Manager) track(l *link) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return false }
    m.links[l] = struct{}{}
    m.bySession[l.sess] = l
    return true
}

func (m *Manager) forget(l *link) {
    m.mu.Lock()
    delete(m.links, l)
    if m.bySession[l.sess] == l { delete(m.bySession, l.sess) }
    m.mu.Unlock()
}

// acquire returns the shared link to ep, dialing it on first use. Every
// successful acquire is paired with releaseLink.
func (m *Manager) acquire(ctx context.Context, ep transport.Endpoint) (*link, error) {
    key := ep.String()
    s, _, err := m.sessions.Acquire(ctx, key, func(ctx context.Context) (transport.Session, error) {
        tr, err := m.transportFor(ep.Kind)
        if err != nil { return nil, err }
        s, err := tr.Dial(ctx, ep.Address, transport.PeerInfo{Addr: ep.Address})
        if err != nil { return nil, err }
        st, err := s.OpenStream(ctx, transport.StreamData)
        if err != nil {
            _ = s.Close()
            return nil, err
        }
        l := newLink(m, key, s, st)
        if !m.track(l) {
            _ = s.Close()
            return nil, ErrClosed
        }
        l.start()
        zap.L().Debug("dialed", zap.String("endpoint", key))
        return s, nil
    })
    if err != nil { return nil, fmt.Errorf("connection: dial %s: %w", key, err) }
    m.mu.Lock()
    l := m.bySession[s]
    m.mu.Unlock()
    if l == nil || l.isClosed() { return nil, fmt.Errorf("connection: dial %s: %w", key, transport.ErrClosed) }
    return l, nil
}

func (m *Manager) releaseLink(l *link) {
    if l.key == "" || l.isClosed() { return }
    m.sessions.Release(l.key)
}

func (m *Manager) encoderFor(out *port.OutputPort) *encoder {
    m.mu.Lock()
    defer m.mu.Unlock()
    e := m.encoders[out]
    if e == nil {
        e = newEncoder(m.codecs)
        m.encoders[out] = e
    }
    return e
}

func (m *Manager) hello(binding string) (*handshake.Hello, error) {
    if m.opts.Identity == nil { return nil, nil }
    h, _, err := handshake.BuildHello(m.opts.Process, binding, m.opts.Identity)
    if err != nil { return nil, err }
    return &h, nil
}

func (m *Manager) verify(h *handshake.Hello, binding string) error {
    if h == nil {
        if m.opts.RequireSigned { return errors.New("unsigned request") }
        return nil
    }
    _, err := handshake.VerifyHello(*h, binding, m.opts.MaxSkew)
    return err
}

func bindingOf(conn [16]byte, target string) string { return protocol.ConnIDString(conn) + "/" + target }

// Expose makes in reachable by Open requests naming its path.
func (m *Manager) Expose(in *port.InputPort) {
    m.mu.Lock()
    m.inputs[in.Path()] = in
    m.mu.Unlock()
}

func (m *Manager) resolve(path string) (*port.InputPort, bool) {
    m.mu.Lock()
    in := m.inputs[path]
    m.mu.Unlock()
    if in != nil { return in, true }
    if m.opts.Resolve != nil { return m.opts.Resolve(path) }
    return nil, false
}

// Connect connects out to in with pol. Local connections bypass the
// codecs; stream connections create a stream with the policy's topic on
// both ports; other transports go through this process's own listener.
// The returned id names the connection on both ports (the topic for
// streams).
func (m *Manager) Connect(ctx context.Context, out *port.OutputPort, in *port.InputPort, pol port.ConnPolicy) (string, error) {
    if err := pol.Validate(); err != nil { return "", err }
    if out.Type().Name != in.Type().Name {
        return "", fmt.Errorf("%w: %s is %s, %s is %s", port.ErrTypeMismatch, out.Path(), out.Type().Name, in.Path(), in.Type().Name)
    }
    switch {
    case pol.Transport == transports.Local:
        return port.ConnectLocal(out, in, pol)
    case transports.IsStream(pol.Transport):
        if err := m.CreateStream(ctx, out, pol.NameID, pol); err != nil { return "", err }
        if err := m.CreateStream(ctx, in, pol.NameID, pol); err != nil { return "", err }
        return pol.NameID, nil
    }
    ep, err := m.Listen(ctx, pol.Transport, "")
    if err != nil { return "", err }
    m.Expose(in)
    return m.ConnectRemote(ctx, out, ep, in.Path(), pol)
}

// ConnectRemote connects out to the input port at target, served by the
// process listening on ep.
func (m *Manager) ConnectRemote(ctx context.Context, out *port.OutputPort, ep transport.Endpoint, target string, pol port.ConnPolicy) (string, error) {
    if pol.Transport == transports.Local || transports.IsStream(pol.Transport) { pol.Transport = transports.FromKind(ep.Kind) }
    if err := pol.Validate(); err != nil { return "", err }
    l, err := m.acquire(ctx, ep)
    if err != nil { return "", err }
    conn := protocol.NewConnID()
    h, err := m.hello(bindingOf(conn, target))
    if err != nil {
        m.releaseLink(l)
        return "", err
    }
    req := protocol.Open{
        Process: m.opts.Process, Source: out.Path(), Target: target,
        Type: out.Type().Name, Format: pol.Format, Policy: pol.Wire(), Hello: h,
    }
    ack, err := l.request(ctx, protocol.MsgOpen, conn, req)
    if err == nil && !ack.OK { err = &RejectError{Reason: ack.Reason} }
    if err != nil {
        m.releaseLink(l)
        return "", fmt.Errorf("connection: %s to %s: %w", out.Path(), target, err)
    }
    rs := m.newSink(l, conn, out, pol, true)
    if !l.addOutbound(rs) {
        rs.finish()
        return "", fmt.Errorf("connection: %s to %s: %w", out.Path(), target, transport.ErrClosed)
    }
    if err := out.Attach(rs.id, rs, pol.Init); err != nil {
        _ = rs.Close()
        return "", err
    }
    zap.L().Info("connected", zap.String("from", out.Path()), zap.String("to", target), zap.String("endpoint", ep.String()), zap.String("conn", rs.id))
    return rs.id, nil
}

func (m *Manager) reject(l *link, conn [16]byte, reason string) {
    zap.L().Info("connection rejected", zap.String("conn", protocol.ConnIDString(conn)), zap.String("reason", reason))
    _ = l.sendControl(protocol.MsgAck, conn, protocol.Ack{OK: false, Reason: reason, Process: m.opts.Process})
}

// onOpen accepts a connection to a local input port.
func (m *Manager) onOpen(l *link, env protocol.Envelope) {
    conn := env.Header.ConnID
    var req protocol.Open
    if _, err := protocol.DecodeEnvelopeBody(&env, &req, m.codecs); err != nil {
        m.reject(l, conn, "malformed open request")
        return
    }
    if err := m.verify(req.Hello, bindingOf(conn, req.Target)); err != nil {
        m.reject(l, conn, "handshake: "+err.Error())
        return
    }
    in, ok := m.resolve(req.Target)
    if !ok {
        m.reject(l, conn, "no input port "+req.Target)
        return
    }
    if in.Type().Name != req.Type {
        m.reject(l, conn, fmt.Sprintf("type mismatch: %s is %s, got %s", in.Path(), in.Type().Name, req.Type))
        return
    }
    if _, err := protocol.CodecFor(m.codecs, req.Format); err != nil {
        m.reject(l, conn, "unsupported format "+req.Format.String())
        return
    }
    pol, err := port.FromWire(req.Policy)
    if err != nil {
        m.reject(l, conn, err.Error())
        return
    }
    m.accept(l, conn, in, pol, nil)
    _ = l.sendControl(protocol.MsgAck, conn, protocol.Ack{OK: true, Process: m.opts.Process})
    zap.L().Info("connection accepted", zap.String("from", req.Process+":"+req.Source), zap.String("to", in.Path()), zap.String("conn", protocol.ConnIDString(conn)))
}

// accept creates the input channel of conn on l. Disconnecting the channel
// locally tells the writer.
func (m *Manager) accept(l *link, conn [16]byte, in *port.InputPort, pol port.ConnPolicy, gone func()) *inbound {
    ch := in.NewChannel(protocol.ConnIDString(conn), pol)
    ib := &inbound{id: conn, in: in, ch: ch, gone: gone}
    if !l.addInbound(ib) {
        _ = ch.Close()
        return nil
    }
    ch.OnDisconnect(func() {
        if l.removeInbound(conn) == nil { return }
        _ = l.sendControl(protocol.MsgClose, conn, protocol.Close{Reason: "input disconnected"})
        if gone != nil { gone() }
    })
    return ib
}

// Disconnect drops every connection and stream of p.
func (m *Manager) Disconnect(ctx context.Context, p port.Port) {
    switch pp := p.(type) {
    case *port.OutputPort:
        m.unpublish(ctx, pp)
        pp.Disconnect()
        m.mu.Lock()
        delete(m.encoders, pp)
        m.mu.Unlock()
    case *port.InputPort:
        m.unsubscribe(pp)
        pp.Disconnect()
        m.mu.Lock()
        if m.inputs[pp.Path()] == pp { delete(m.inputs, pp.Path()) }
        m.mu.Unlock()
    default:
        p.Disconnect()
    }
}

// Links reports the number of live sessions.
func (m *Manager) Links() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.links)
}

// Close withdraws publications, stops listening and ends every link.
func (m *Manager) Close() error {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil
    }
    m.closed = true
    pubs := m.publicationsLocked()
    var subs []*subscription
    for _, ss := range m.subs { subs = append(subs, ss...) }
    m.subs = make(map[*port.InputPort][]*subscription)
    lns := m.listeners
    m.listeners = make(map[transport.Kind]*listening)
    links := make([]*link, 0, len(m.links))
    for l := range m.links { links = append(links, l) }
    m.mu.Unlock()

    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    for _, p := range pubs { _ = m.opts.Directory.Withdraw(ctx, p.topic, m.opts.Process) }
    for _, s := range subs { s.cancel() }
    m.cancel()
    for _, l := range lns { _ = l.ln.Close() }
    for _, l := range links { l.close() }
    m.sessions.CloseAll()
    return nil
}

func (m *Manager) publicationsLocked() []*publication {
    out := make([]*publication, 0, len(m.pubs))
    for _, p := range m.pubs { out = append(out, p) }
    sort.Slice(out, func(i, j int) bool { return out[i].topic < out[j].topic })
    return out
}
