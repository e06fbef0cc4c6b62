package connection

import (
    "context"
    "fmt"
    "sync"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/directory"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transports"
)

// publication is an output port published under a topic.
type publication struct {
    topic string
    out   *port.OutputPort
    pol   port.ConnPolicy
}

// subscription follows the publishers of a topic for an input port.
type subscription struct {
    topic  string
    in     *port.InputPort
    pol    port.ConnPolicy
    cancel context.CancelFunc

    mu    sync.Mutex
    peers map[string][16]byte // publisher process -> connection, zero while dialing
}

func (s *subscription) claim(process string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.peers[process]; ok { return false }
    s.peers[process] = [16]byte{}
    return true
}

func (s *subscription) set(process string, conn [16]byte) {
    s.mu.Lock()
    s.peers[process] = conn
    s.mu.Unlock()
}

func (s *subscription) forget(process string, conn [16]byte) {
    s.mu.Lock()
    if s.peers[process] == conn { delete(s.peers, process) }
    s.mu.Unlock()
}

// CreateStream publishes an output port or subscribes an input port to
// topic. Subscribers connect to every publisher of the topic, now and as
// they appear; publishers send every sample to all their subscribers.
func (m *Manager) CreateStream(ctx context.Context, p port.Port, topic string, pol port.ConnPolicy) error {
    if topic == "" { topic = pol.NameID }
    pol.Transport, pol.NameID = transports.Stream, topic
    if err := pol.Validate(); err != nil { return err }
    switch pp := p.(type) {
    case *port.OutputPort:
        return m.publish(ctx, pp, pol)
    case *port.InputPort:
        return m.subscribe(pp, pol)
    default:
        return fmt.Errorf("connection: cannot stream port %s", p.Path())
    }
}

func (m *Manager) publish(ctx context.Context, out *port.OutputPort, pol port.ConnPolicy) error {
    pub := &publication{topic: pol.NameID, out: out, pol: pol}
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return ErrClosed
    }
    if prev := m.pubs[pub.topic]; prev != nil {
        m.mu.Unlock()
        if prev.out == out { return nil }
        return fmt.Errorf("%w: %s by %s", ErrTopicTaken, pub.topic, prev.out.Path())
    }
    m.pubs[pub.topic] = pub
    listening := len(m.listeners) > 0
    m.mu.Unlock()

    if !listening {
        // Listen advertises every publication, this one included
        if _, err := m.Listen(ctx, transports.Mem, ""); err != nil {
            m.dropPublication(pub)
            return err
        }
        return nil
    }
    if err := m.advertise(ctx, pub); err != nil {
        m.dropPublication(pub)
        return err
    }
    return nil
}

func (m *Manager) dropPublication(pub *publication) {
    m.mu.Lock()
    if m.pubs[pub.topic] == pub { delete(m.pubs, pub.topic) }
    m.mu.Unlock()
}

func (m *Manager) advertise(ctx context.Context, pub *publication) error {
    a := directory.Advert{
        Topic: pub.topic, Process: m.opts.Process, Type: pub.out.Type().Name,
        Format: pub.pol.Format.Name(), Endpoints: m.Endpoints(),
    }
    if err := m.opts.Directory.Advertise(ctx, a); err != nil {
        zap.L().Warn("advertise failed", zap.String("topic", pub.topic), zap.Error(err))
        return err
    }
    zap.L().Info("stream published", zap.String("topic", pub.topic), zap.String("port", pub.out.Path()), zap.Strings("endpoints", a.Endpoints))
    return nil
}

func (m *Manager) unpublish(ctx context.Context, out *port.OutputPort) {
    m.mu.Lock()
    var topics []string
    for t, p := range m.pubs {
        if p.out != out { continue }
        delete(m.pubs, t)
        topics = append(topics, t)
    }
    m.mu.Unlock()
    for _, t := range topics { _ = m.opts.Directory.Withdraw(ctx, t, m.opts.Process) }
}

// onSubscribe attaches a subscriber to a local publication.
func (m *Manager) onSubscribe(l *link, env protocol.Envelope) {
    conn := env.Header.ConnID
    var req protocol.Subscribe
    if _, err := protocol.DecodeEnvelopeBody(&env, &req, m.codecs); err != nil {
        m.reject(l, conn, "malformed subscribe request")
        return
    }
    if err := m.verify(req.Hello, bindingOf(conn, req.Topic)); err != nil {
        m.reject(l, conn, "handshake: "+err.Error())
        return
    }
    m.mu.Lock()
    pub := m.pubs[req.Topic]
    m.mu.Unlock()
    if pub == nil {
        m.reject(l, conn, "topic not published: "+req.Topic)
        return
    }
    if pub.out.Type().Name != req.Type {
        m.reject(l, conn, fmt.Sprintf("type mismatch: %s is %s, got %s", req.Topic, pub.out.Type().Name, req.Type))
        return
    }
    if _, err := protocol.CodecFor(m.codecs, req.Format); err != nil {
        m.reject(l, conn, "unsupported format "+req.Format.String())
        return
    }
    pol := pub.pol
    pol.Format = req.Format
    rs := m.newSink(l, conn, pub.out, pol, false)
    if !l.addOutbound(rs) { return }
    _ = l.sendControl(protocol.MsgAck, conn, protocol.Ack{OK: true, Process: m.opts.Process})
    if err := pub.out.Attach(rs.id, rs, pol.Init); err != nil {
        _ = rs.Close()
        return
    }
    zap.L().Info("subscriber attached", zap.String("topic", req.Topic), zap.String("process", req.Process), zap.String("conn", rs.id))
}

func (m *Manager) subscribe(in *port.InputPort, pol port.ConnPolicy) error {
    ctx, cancel := context.WithCancel(m.ctx)
    sub := &subscription{topic: pol.NameID, in: in, pol: pol, cancel: cancel, peers: make(map[string][16]byte)}
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        cancel()
        return ErrClosed
    }
    for _, s := range m.subs[in] {
        if s.topic == sub.topic {
            m.mu.Unlock()
            cancel()
            return nil
        }
    }
    m.subs[in] = append(m.subs[in], sub)
    m.mu.Unlock()

    w, err := m.opts.Directory.Watch(ctx, sub.topic)
    if err != nil {
        cancel()
        m.dropSubscription(sub)
        return err
    }
    go func() {
        for adverts := range w { m.follow(ctx, sub, adverts) }
    }()
    zap.L().Info("stream subscribed", zap.String("topic", sub.topic), zap.String("port", in.Path()))
    return nil
}

func (m *Manager) dropSubscription(sub *subscription) {
    m.mu.Lock()
    defer m.mu.Unlock()
    ss := m.subs[sub.in]
    for i, s := range ss {
        if s == sub {
            m.subs[sub.in] = append(ss[:i], ss[i+1:]...)
            break
        }
    }
    if len(m.subs[sub.in]) == 0 { delete(m.subs, sub.in) }
}

func (m *Manager) unsubscribe(in *port.InputPort) {
    m.mu.Lock()
    subs := m.subs[in]
    delete(m.subs, in)
    m.mu.Unlock()
    for _, s := range subs { s.cancel() }
}

// follow connects to the publishers of adverts not connected yet.
func (m *Manager) follow(ctx context.Context, sub *subscription, adverts []directory.Advert) {
    for _, a := range adverts {
        if a.Type != sub.in.Type().Name {
            zap.L().Warn("publisher type differs", zap.String("topic", sub.topic), zap.String("process", a.Process), zap.String("type", a.Type))
            continue
        }
        if !sub.claim(a.Process) { continue }
        if err := m.dialPublisher(ctx, sub, a); err != nil {
            sub.forget(a.Process, [16]byte{})
            if ctx.Err() == nil {
                zap.L().Warn("subscribe failed", zap.String("topic", sub.topic), zap.String("process", a.Process), zap.Error(err))
            }
        }
    }
}

// dialPublisher tries the advertised endpoints best ranked first.
func (m *Manager) dialPublisher(ctx context.Context, sub *subscription, a directory.Advert) error {
    eps := make([]transport.Endpoint, 0, len(a.Endpoints))
    for _, s := range a.Endpoints {
        ep, err := transport.ParseEndpoint(s)
        if err != nil { continue }
        eps = append(eps, ep)
    }
    transport.SortEndpoints(eps)
    err := fmt.Errorf("no usable endpoint in %v", a.Endpoints)
    for _, ep := range eps {
        if err = m.subscribeVia(ctx, sub, a.Process, ep); err == nil { return nil }
    }
    return err
}

func (m *Manager) subscribeVia(ctx context.Context, sub *subscription, process string, ep transport.Endpoint) error {
    l, err := m.acquire(ctx, ep)
    if err != nil { return err }
    conn := protocol.NewConnID()
    gone := func() {
        m.releaseLink(l)
        sub.forget(process, conn)
    }
    ib := m.accept(l, conn, sub.in, sub.pol, gone)
    if ib == nil {
        m.releaseLink(l)
        return transport.ErrClosed
    }
    h, err := m.hello(bindingOf(conn, sub.topic))
    if err == nil {
        req := protocol.Subscribe{Process: m.opts.Process, Topic: sub.topic, Type: sub.in.Type().Name, Format: sub.pol.Format, Hello: h}
        var ack protocol.Ack
        ack, err = l.request(ctx, protocol.MsgSubscribe, conn, req)
        if err == nil && !ack.OK { err = &RejectError{Reason: ack.Reason} }
    }
    if err != nil {
        if l.removeInbound(conn) != nil { _ = ib.ch.Close() }
        m.releaseLink(l)
        return err
    }
    sub.set(process, conn)
    zap.L().Info("stream connected", zap.String("topic", sub.topic), zap.String("publisher", process), zap.String("endpoint", ep.String()))
    return nil
}
