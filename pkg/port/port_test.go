package port

import (
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/rock-core/base-orogen-std/pkg/transports"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

func types(t *testing.T) (*typekit.Registry, *typekit.TypeInfo) {
    t.Helper()
    reg := typekit.NewRegistry()
    require.NoError(t, reg.Load(typekit.StdTypekit))
    ti, err := reg.Lookup("/int32_t")
    require.NoError(t, err)
    return reg, ti
}

func TestLocalDataConnection(t *testing.T) {
    reg, ti := types(t)
    out := NewOutputPort("producer", "out", ti)
    in := NewInputPort("consumer", "in", ti)
    require.Equal(t, "producer.out", out.Path())

    _, fs := in.Read()
    require.Equal(t, NoData, fs)

    id, err := ConnectLocal(out, in, DefaultPolicy())
    require.NoError(t, err)
    require.True(t, out.Connected())
    require.Equal(t, []string{id}, in.Connections())

    require.NoError(t, out.WriteNative(int32(-2147483648)))
    select {
    case <-in.Signal():
    case <-time.After(time.Second):
        t.Fatal("no signal")
    }
    v, fs := in.Read()
    require.Equal(t, NewData, fs)
    require.True(t, v.Equal(reg.MustValue("/int32_t", int32(-2147483648))))

    v, fs = in.Read()
    require.Equal(t, OldData, fs)
    require.Equal(t, int64(-2147483648), v.Int())

    // data channels keep only the latest sample
    require.NoError(t, out.WriteNative(1))
    require.NoError(t, out.WriteNative(2))
    v, fs = in.Read()
    require.Equal(t, NewData, fs)
    require.Equal(t, int64(2), v.Int())
}

func TestWriteChecksType(t *testing.T) {
    reg, ti := types(t)
    out := NewOutputPort("p", "out", ti)
    err := out.Write(reg.MustValue("/double", 1.5))
    require.True(t, errors.Is(err, ErrTypeMismatch))
    require.Error(t, out.WriteNative(int64(1)<<40))

    other, _ := reg.Lookup("/std/string")
    _, err = ConnectLocal(out, NewInputPort("c", "in", other), DefaultPolicy())
    require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestBufferPolicies(t *testing.T) {
    _, ti := types(t)
    out := NewOutputPort("p", "out", ti)
    buf := NewInputPort("c", "fifo", ti)
    ring := NewInputPort("c", "ring", ti)
    _, err := ConnectLocal(out, buf, ConnPolicy{Type: Buffer, Size: 2})
    require.NoError(t, err)
    _, err = ConnectLocal(out, ring, ConnPolicy{Type: Circular, Size: 2})
    require.NoError(t, err)

    for i := 1; i <= 3; i++ { require.NoError(t, out.WriteNative(i)) }

    read := func(p *InputPort) []int64 {
        var got []int64
        for {
            v, fs := p.Read()
            if fs != NewData { return got }
            got = append(got, v.Int())
        }
    }
    require.Equal(t, []int64{1, 2}, read(buf))
    require.Equal(t, []int64{2, 3}, read(ring))

    c, ok := buf.Channel(buf.Connections()[0])
    require.True(t, ok)
    require.EqualValues(t, 1, c.Dropped())

    v, fs := buf.Read()
    require.Equal(t, OldData, fs)
    require.Equal(t, int64(2), v.Int())
}

func TestRoundRobinOverChannels(t *testing.T) {
    _, ti := types(t)
    a := NewOutputPort("a", "out", ti)
    b := NewOutputPort("b", "out", ti)
    in := NewInputPort("c", "in", ti)
    _, err := ConnectLocal(a, in, DefaultPolicy())
    require.NoError(t, err)
    _, err = ConnectLocal(b, in, DefaultPolicy())
    require.NoError(t, err)

    require.NoError(t, a.WriteNative(1))
    require.NoError(t, b.WriteNative(2))
    v1, fs1 := in.Read()
    v2, fs2 := in.Read()
    require.Equal(t, NewData, fs1)
    require.Equal(t, NewData, fs2)
    require.ElementsMatch(t, []int64{1, 2}, []int64{v1.Int(), v2.Int()})

    // the channel that produced last is read again as old data
    v3, fs3 := in.Read()
    require.Equal(t, OldData, fs3)
    require.Equal(t, v2.Int(), v3.Int())
}

func TestInitAndDisconnect(t *testing.T) {
    _, ti := types(t)
    out := NewOutputPort("p", "out", ti)
    require.NoError(t, out.WriteNative(7))

    in := NewInputPort("c", "in", ti)
    _, err := ConnectLocal(out, in, ConnPolicy{Type: Data, Init: true})
    require.NoError(t, err)
    v, fs := in.Read()
    require.Equal(t, NewData, fs)
    require.Equal(t, int64(7), v.Int())

    in.Disconnect()
    require.False(t, in.Connected())
    require.False(t, out.Connected())

    in2 := NewInputPort("c", "in2", ti)
    id, err := ConnectLocal(out, in2, DefaultPolicy())
    require.NoError(t, err)
    require.NoError(t, out.DisconnectID(id))
    require.False(t, in2.Connected())
    require.ErrorIs(t, out.DisconnectID(id), ErrNotConnected)

    in3 := NewInputPort("c", "in3", ti)
    _, err = ConnectLocal(out, in3, DefaultPolicy())
    require.NoError(t, err)
    require.NoError(t, out.WriteNative(8))
    in3.Clear()
    _, fs = in3.Read()
    require.Equal(t, NoData, fs)
    out.Disconnect()
    require.False(t, in3.Connected())
}

func TestPolicyValidate(t *testing.T) {
    p := ConnPolicy{Type: Buffer}
    require.Error(t, p.Validate())

    p = ConnPolicy{Type: Data, Transport: transports.Stream}
    require.Error(t, p.Validate())

    p = ConnPolicy{Type: Circular, Size: 4, Transport: transports.UDP}
    require.NoError(t, p.Validate())
    require.Equal(t, transports.DefaultFormat(transports.UDP), p.Format)

    w := p.Wire()
    back, err := FromWire(w)
    require.NoError(t, err)
    require.Equal(t, Circular, back.Type)
    require.Equal(t, 4, back.Size)

    w.Type = "heap"
    _, err = FromWire(w)
    require.Error(t, err)
}
