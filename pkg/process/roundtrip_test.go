package process

import (
    "context"
    "io"
    "math"
    "net"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/require"
    goserial "go.bug.st/serial"

    "github.com/rock-core/base-orogen-std/pkg/config"
    "github.com/rock-core/base-orogen-std/pkg/directory"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/serial"
    "github.com/rock-core/base-orogen-std/pkg/transports"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

// serialLine connects the two openers of one device path with a pipe.
type serialLine struct {
    mu   sync.Mutex
    ends map[string]net.Conn
}

func (l *serialLine) open(path string, _ *goserial.Mode) (io.ReadWriteCloser, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if c, ok := l.ends[path]; ok {
        delete(l.ends, path)
        return c, nil
    }
    a, b := net.Pipe()
    l.ends[path] = b
    return a, nil
}

func newHost(t *testing.T, mutate func(*config.Config)) *Host {
    t.Helper()
    cfg := config.Default()
    cfg.Process = "test-" + uuid.NewString()[:8]
    cfg.Transports = nil
    cfg.Connection.AckTimeoutMS = 3000
    if mutate != nil { mutate(cfg) }
    dir := directory.NewMemory()
    t.Cleanup(func() { _ = dir.Close() })
    line := &serialLine{ends: map[string]net.Conn{}}
    h, err := New(cfg, Options{
        Directory:  dir,
        Transports: map[transport.Kind]transport.Transport{transport.KindSerial: &serial.Transport{Open: line.open}},
    })
    require.NoError(t, err)
    t.Cleanup(func() { _ = h.Close() })
    return h
}

type samples struct {
    typename string
    values   []any
}

func integerSamples() []samples {
    return []samples{
        {"/int8_t", []any{int8(math.MinInt8), int8(math.MaxInt8), int8(-1)}},
        {"/uint8_t", []any{uint8(math.MaxUint8), uint8(0), uint8(1)}},
        {"/int16_t", []any{int16(math.MinInt16), int16(math.MaxInt16), int16(-1)}},
        {"/uint16_t", []any{uint16(math.MaxUint16), uint16(0), uint16(1)}},
        {"/int32_t", []any{int32(math.MinInt32), int32(math.MaxInt32), int32(-1)}},
        {"/uint32_t", []any{uint32(math.MaxUint32), uint32(0), uint32(1)}},
        {"/int64_t", []any{int64(math.MinInt64), int64(math.MaxInt64), int64(-1)}},
        {"/uint64_t", []any{uint64(math.MaxUint64), uint64(0), uint64(1)}},
    }
}

func allSamples() []samples {
    return append(integerSamples(),
        samples{"/bool", []any{true, false, true}},
        samples{"/double", []any{math.MaxFloat64, -math.SmallestNonzeroFloat64, 0.1, -2.5e-300, math.Inf(1), math.Inf(-1), math.Copysign(0, -1)}},
        samples{"/std/string", []any{"hello", "", "ünïcödé ✓", strings.Repeat("0123456789", 300), "\xff\xfebytes", "hello"}},
    )
}

// floatSamples are written as doubles and converted through the registry.
var floatSamples = []float64{1.5, -0.25, 16777216, math.MaxFloat32, math.Inf(-1), math.Copysign(0, -1)}

func connectPair(t *testing.T, h *Host, id transports.ID, typename string) (*port.OutputPort, *port.InputPort) {
    t.Helper()
    name := strings.ReplaceAll(strings.TrimPrefix(typename, "/"), "/", "_")
    producer, ok := h.TaskContext("producer")
    if !ok {
        var err error
        producer, err = h.CreateTaskContext("producer")
        require.NoError(t, err)
    }
    consumer, ok := h.TaskContext("consumer")
    if !ok {
        var err error
        consumer, err = h.CreateTaskContext("consumer")
        require.NoError(t, err)
    }
    out, err := producer.CreateOutputPort(name, typename)
    require.NoError(t, err)
    in, err := consumer.CreateInputPort(name, typename)
    require.NoError(t, err)

    pol := port.DefaultPolicy()
    pol.Transport = id
    if transports.IsStream(id) { pol.NameID = "/test" + typename }
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _, err = h.Connect(ctx, out, in, pol)
    require.NoError(t, err)
    require.Eventually(t, out.Connected, 5*time.Second, 5*time.Millisecond)
    return out, in
}

// send writes want and waits for it to arrive as a new sample.
func send(t *testing.T, out *port.OutputPort, in *port.InputPort, want typekit.Value) {
    t.Helper()
    in.Clear()
    require.NoError(t, out.Write(want))
    var got typekit.Value
    require.Eventuallyf(t, func() bool {
        v, st := in.Read()
        got = v
        return st == port.NewData
    }, 5*time.Second, 2*time.Millisecond, "want %v", want)
    require.True(t, got.Equal(want), "got %q want %q", got, want)
}

func roundTripTransports() []transports.ID {
    var ids []transports.ID
    for _, id := range transports.IDs() {
        if id == transports.WinPipe { continue } // covered by the winpipe package on windows
        ids = append(ids, id)
    }
    return ids
}

func TestValuesRoundTripOnEveryTransport(t *testing.T) {
    for _, id := range roundTripTransports() {
        t.Run(id.String(), func(t *testing.T) {
            h := newHost(t, nil)
            if id == transports.Serial {
                _, err := h.Connections().Listen(context.Background(), transports.Serial, "/dev/ttyTEST0")
                require.NoError(t, err)
            }
            types := h.Types()
            for _, s := range allSamples() {
                out, in := connectPair(t, h, id, s.typename)
                for _, x := range s.values {
                    want, err := types.NewValue(s.typename, x)
                    require.NoError(t, err)
                    send(t, out, in, want)
                }
            }

            out, in := connectPair(t, h, id, "/float")
            for _, x := range floatSamples {
                d, err := types.NewValue("/double", x)
                require.NoError(t, err)
                want, err := types.Convert(d, "/float")
                require.NoError(t, err)
                send(t, out, in, want)
                require.Equal(t, float32(x), want.Native())
            }
        })
    }
}

func TestPropertiesRoundTrip(t *testing.T) {
    h := newHost(t, nil)
    tc, err := h.CreateTaskContext("props")
    require.NoError(t, err)
    types := h.Types()

    check := func(name, typename string, x any) {
        t.Helper()
        p, ok := tc.Property(name)
        if !ok {
            p, err = tc.CreateProperty(name, typename, "")
            require.NoError(t, err)
        }
        want, err := types.NewValue(typename, x)
        require.NoError(t, err)
        require.NoError(t, p.Set(x))
        got, err := p.Get()
        require.NoError(t, err)
        require.True(t, got.Equal(want), "%s: got %v want %v", name, got, want)
    }
    for _, s := range allSamples() {
        name := strings.ReplaceAll(strings.TrimPrefix(s.typename, "/"), "/", "_")
        for _, x := range s.values { check(name, s.typename, x) }
    }

    p, err := tc.CreateProperty("f", "/float", "converted")
    require.NoError(t, err)
    for _, x := range floatSamples {
        d, err := types.NewValue("/double", x)
        require.NoError(t, err)
        require.NoError(t, p.Set(d))
        got, err := p.Get()
        require.NoError(t, err)
        require.Equal(t, float32(x), got.Native())
    }

    prop, err := h.Property("props.int8_t")
    require.NoError(t, err)
    require.Error(t, prop.Set(int64(200)))
}

func TestSelfTestReportsEveryProbe(t *testing.T) {
    h := newHost(t, nil)
    probes, err := Probes(h.Types())
    require.NoError(t, err)
    for _, id := range []transports.ID{transports.Local, transports.TCP, transports.Stream} {
        results, err := h.SelfTest(context.Background(), id, 5*time.Second)
        require.NoError(t, err)
        require.Len(t, results, len(probes))
        for _, r := range results {
            require.True(t, r.OK(), "%s %s: %v", id, r.Type, r.Err)
            require.Equal(t, r.Sent, r.Received)
        }
    }
    require.Empty(t, h.TaskContexts())
}
