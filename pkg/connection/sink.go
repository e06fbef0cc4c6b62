package connection

import (
    "sync"
    "sync/atomic"
    "time"

    "github.com/rock-core/base-orogen-std/pkg/dispatch"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

// encoder keeps the last encoding per format of one output port, so a
// sample fanned out to several connections is marshalled once per format.
type encoder struct {
    codecs *codec.Registry
    mu     sync.Mutex
    cache  map[protocol.Format]encoded
}

type encoded struct {
    v typekit.Value
    b []byte
}

func newEncoder(codecs *codec.Registry) *encoder {
    return &encoder{codecs: codecs, cache: make(map[protocol.Format]encoded)}
}

func (e *encoder) encode(f protocol.Format, v typekit.Value) ([]byte, error) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if c, ok := e.cache[f]; ok && c.v.Equal(v) { return c.b, nil }
    b, err := protocol.EncodeSample(e.codecs, f, v)
    if err != nil { return nil, err }
    e.cache[f] = encoded{v: v, b: b}
    return b, nil
}

// remoteSink is the writing end of a connection over a link.
type remoteSink struct {
    m       *Manager
    l       *link
    conn    [16]byte
    id      string
    out     *port.OutputPort
    format  protocol.Format
    class   dispatch.Class
    bucket  *dispatch.TokenBucket
    enc     *encoder
    dialed  bool // holds a reference on the link's session
    once    sync.Once
    dropped atomic.Uint64
}

func (m *Manager) newSink(l *link, conn [16]byte, out *port.OutputPort, pol port.ConnPolicy, dialed bool) *remoteSink {
    rs := &remoteSink{
        m: m, l: l, conn: conn, id: protocol.ConnIDString(conn), out: out,
        format: pol.Format, class: pol.Priority, enc: m.encoderFor(out), dialed: dialed,
    }
    if pol.RateLimit > 0 { rs.bucket = dispatch.NewTokenBucket(pol.RateLimit, 1) }
    return rs
}

// Push queues v. Samples over the rate limit are dropped.
func (s *remoteSink) Push(v typekit.Value) error {
    if s.bucket != nil {
        if ok, _ := s.bucket.Allow(1); !ok {
            s.dropped.Add(1)
            return nil
        }
    }
    payload, err := s.enc.encode(s.format, v)
    if err != nil { return err }
    env := protocol.Envelope{
        Header: protocol.Header{
            Type:      protocol.MsgSample,
            Format:    s.format,
            TypeID:    v.Type().ID(),
            Timestamp: time.Now().UnixNano(),
            ConnID:    s.conn,
        },
        Payload: payload,
    }
    return s.l.send(env, s.class)
}

// Close ends the connection from the writing side.
func (s *remoteSink) Close() error {
    if s.l.removeOutbound(s.conn) {
        env, err := protocol.NewControl(s.m.codecs, protocol.MsgClose, s.conn, protocol.Close{Reason: "output disconnected"})
        // same class as the samples so the close does not overtake them
        if err == nil { _ = s.l.send(env, s.class) }
    }
    s.finish()
    return nil
}

func (s *remoteSink) finish() {
    s.once.Do(func() {
        if s.dialed { s.m.releaseLink(s.l) }
    })
}
