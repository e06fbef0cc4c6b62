package connection

import (
    "context"
    "errors"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/dispatch"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/transport"
)

// link runs one session: a read loop dispatching envelopes, a writer
// draining the priority queue, and heartbeats.
type link struct {
    m     *Manager
    key   string // endpoint of dialed links, "" for accepted ones
    sess  transport.Session
    st    transport.Stream
    chunk int // payload budget per frame, 0 when unlimited

    q        *dispatch.Queue
    reasm    *protocol.Reassembler
    ctx      context.Context
    cancel   context.CancelFunc
    seq      atomic.Uint64
    lastRecv atomic.Int64
    done     chan struct{}

    mu      sync.Mutex
    closed  bool
    pending map[[16]byte]chan protocol.Ack
    ins     map[[16]byte]*inbound
    outs    map[[16]byte]*remoteSink
}

// inbound is the receiving end of a connection: samples for id are pushed
// into ch.
type inbound struct {
    id   [16]byte
    in   *port.InputPort
    ch   *port.Channel
    gone func() // run when the peer or the link ends the connection
}

func newLink(m *Manager, key string, s transport.Session, st transport.Stream) *link {
    ctx, cancel := context.WithCancel(m.ctx)
    l := &link{
        m: m, key: key, sess: s, st: st,
        q: dispatch.New(), reasm: protocol.NewReassembler(m.opts.AckTimeout),
        ctx: ctx, cancel: cancel, done: make(chan struct{}),
        pending: make(map[[16]byte]chan protocol.Ack),
        ins:     make(map[[16]byte]*inbound),
        outs:    make(map[[16]byte]*remoteSink),
    }
    if fl, ok := st.(transport.FrameLimiter); ok {
        if n := fl.MaxFrameSize() - protocol.HeaderSize; n > 0 { l.chunk = n }
    }
    l.lastRecv.Store(time.Now().UnixNano())
    return l
}

func (l *link) start() {
    go l.readLoop()
    go l.writeLoop()
    if l.m.opts.HeartbeatInterval > 0 { go l.heartbeat() }
}

func (l *link) log() *zap.Logger {
    remote := "unknown"
    if a := l.sess.RemoteAddr(); a != nil { remote = a.String() }
    return zap.L().With(zap.String("kind", l.sess.TransportKind().String()), zap.String("remote", remote))
}

// send queues env, fragmented to the frame budget of the stream.
func (l *link) send(env protocol.Envelope, class dispatch.Class) error {
    l.mu.Lock()
    closed := l.closed
    l.mu.Unlock()
    if closed { return transport.ErrClosed }
    if env.Header.Version == 0 { env.Header.Version = protocol.Version }
    if env.Header.Seq == 0 { env.Header.Seq = l.seq.Add(1) }
    frags := []protocol.Envelope{env}
    if l.chunk > 0 && len(env.Payload) > l.chunk {
        var err error
        if frags, err = env.Fragments(l.chunk); err != nil { return err }
    }
    flow := protocol.ConnIDString(env.Header.ConnID)
    for i := range frags {
        b, err := frags[i].EncodeFrame()
        if err != nil { return err }
        l.q.Enqueue(dispatch.Item{Frame: b, Flow: flow, Class: class})
    }
    return nil
}

func (l *link) sendControl(msg uint8, conn [16]byte, body any) error {
    env, err := protocol.NewControl(l.m.codecs, msg, conn, body)
    if err != nil { return err }
    return l.send(env, dispatch.Control)
}

// request sends a control message and waits for the Ack of conn.
func (l *link) request(ctx context.Context, msg uint8, conn [16]byte, body any) (protocol.Ack, error) {
    ch := make(chan protocol.Ack, 1)
    l.mu.Lock()
    if l.closed {
        l.mu.Unlock()
        return protocol.Ack{}, transport.ErrClosed
    }
    l.pending[conn] = ch
    l.mu.Unlock()
    defer func() {
        l.mu.Lock()
        delete(l.pending, conn)
        l.mu.Unlock()
    }()
    if err := l.sendControl(msg, conn, body); err != nil { return protocol.Ack{}, err }

    t := time.NewTimer(l.m.opts.AckTimeout)
    defer t.Stop()
    select {
    case ack := <-ch:
        return ack, nil
    case <-t.C:
        return protocol.Ack{}, ErrAckTimeout
    case <-l.done:
        return protocol.Ack{}, transport.ErrClosed
    case <-ctx.Done():
        return protocol.Ack{}, ctx.Err()
    }
}

func (l *link) writeLoop() {
    for {
        it, err := l.q.Dequeue(l.ctx)
        if err != nil { return }
        if err := l.st.SendBytes(it.Frame); err != nil {
            if !errors.Is(err, transport.ErrClosed) { l.log().Debug("send failed", zap.Error(err)) }
            l.close()
            return
        }
    }
}

func (l *link) heartbeat() {
    iv := l.m.opts.HeartbeatInterval
    t := time.NewTicker(iv)
    defer t.Stop()
    for {
        select {
        case <-l.ctx.Done():
            return
        case now := <-t.C:
            if idle := l.m.opts.IdleTimeout; idle > 0 && now.Sub(time.Unix(0, l.lastRecv.Load())) > idle {
                l.log().Info("link idle, closing", zap.Duration("idle", idle))
                l.close()
                return
            }
            _ = l.sendControl(protocol.MsgHeartbeat, [16]byte{}, protocol.Heartbeat{SentAt: now.UnixMilli()})
        }
    }
}

func (l *link) readLoop() {
    defer l.close()
    for {
        buf, err := l.st.RecvBytes()
        if err != nil {
            select {
            case <-l.ctx.Done():
            default:
                l.log().Debug("recv ended", zap.Error(err))
            }
            return
        }
        l.lastRecv.Store(time.Now().UnixNano())
        var env protocol.Envelope
        if err := env.DecodeFrame(buf); err != nil {
            l.log().Warn("bad frame", zap.Error(err))
            continue
        }
        env, ok, err := l.reasm.Add(env)
        if err != nil {
            l.log().Warn("bad fragment", zap.Error(err))
            continue
        }
        if !ok { continue }
        l.handle(env)
    }
}

func (l *link) handle(env protocol.Envelope) {
    switch env.Header.Type {
    case protocol.MsgSample:
        l.onSample(env)
    case protocol.MsgOpen:
        l.m.onOpen(l, env)
    case protocol.MsgSubscribe:
        l.m.onSubscribe(l, env)
    case protocol.MsgAck:
        var ack protocol.Ack
        if _, err := protocol.DecodeEnvelopeBody(&env, &ack, l.m.codecs); err != nil {
            l.log().Warn("bad ack", zap.Error(err))
            return
        }
        l.mu.Lock()
        ch := l.pending[env.Header.ConnID]
        l.mu.Unlock()
        if ch != nil {
            select {
            case ch <- ack:
            default:
            }
        }
    case protocol.MsgClose:
        var c protocol.Close
        _, _ = protocol.DecodeEnvelopeBody(&env, &c, l.m.codecs)
        l.onClose(env.Header.ConnID, c.Reason)
    case protocol.MsgHeartbeat:
    default:
        l.log().Debug("unknown message", zap.Uint8("type", env.Header.Type))
    }
}

func (l *link) onSample(env protocol.Envelope) {
    l.mu.Lock()
    ib := l.ins[env.Header.ConnID]
    l.mu.Unlock()
    if ib == nil { return }
    t := ib.in.Type()
    if env.Header.TypeID != 0 && env.Header.TypeID != t.ID() {
        l.log().Warn("sample type id mismatch", zap.String("port", ib.in.Path()))
        return
    }
    v, _, err := protocol.DecodeSample(l.m.codecs, t, env.Payload)
    if err != nil {
        l.log().Warn("undecodable sample", zap.String("port", ib.in.Path()), zap.Error(err))
        return
    }
    _ = ib.ch.Push(v)
}

// onClose handles the peer ending connection conn.
func (l *link) onClose(conn [16]byte, reason string) {
    l.mu.Lock()
    ib := l.ins[conn]
    delete(l.ins, conn)
    rs := l.outs[conn]
    delete(l.outs, conn)
    l.mu.Unlock()
    if ib != nil {
        _ = ib.ch.Close()
        if ib.gone != nil { ib.gone() }
        zap.L().Debug("connection closed by peer", zap.String("port", ib.in.Path()), zap.String("reason", reason))
    }
    if rs != nil {
        rs.out.Detach(rs.id)
        rs.finish()
        zap.L().Debug("connection closed by peer", zap.String("port", rs.out.Path()), zap.String("reason", reason))
    }
}

func (l *link) addInbound(ib *inbound) bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return false }
    l.ins[ib.id] = ib
    return true
}

func (l *link) removeInbound(conn [16]byte) *inbound {
    l.mu.Lock()
    defer l.mu.Unlock()
    ib := l.ins[conn]
    delete(l.ins, conn)
    return ib
}

func (l *link) addOutbound(rs *remoteSink) bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return false }
    l.outs[rs.conn] = rs
    return true
}

func (l *link) removeOutbound(conn [16]byte) bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    _, ok := l.outs[conn]
    delete(l.outs, conn)
    return ok
}

func (l *link) isClosed() bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.closed
}

// close ends the session and every connection carried by it.
func (l *link) close() {
    l.mu.Lock()
    if l.closed {
        l.mu.Unlock()
        return
    }
    l.closed = true
    ins, outs := l.ins, l.outs
    l.ins, l.outs = nil, nil
    l.mu.Unlock()

    l.cancel()
    close(l.done)
    if l.key != "" {
        l.m.sessions.Evict(l.key, l.sess)
    } else {
        _ = l.sess.Close()
    }
    for _, ib := range ins {
        _ = ib.ch.Close()
        if ib.gone != nil { ib.gone() }
    }
    for _, rs := range outs {
        rs.out.Detach(rs.id)
        rs.finish()
    }
    l.m.forget(l)
    l.log().Debug("link closed", zap.Int("inbound", len(ins)), zap.Int("outbound", len(outs)))
}
