package process

import (
    "context"
    "path/filepath"
    "testing"
    "time"

    "github.com/google/go-cmp/cmp"
    "github.com/stretchr/testify/require"

    "github.com/rock-core/base-orogen-std/pkg/config"
    "github.com/rock-core/base-orogen-std/pkg/connection"
    "github.com/rock-core/base-orogen-std/pkg/dispatch"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/registry"
    "github.com/rock-core/base-orogen-std/pkg/transports"
)

func deployment() ([]config.ComponentConfig, []config.ConnectionSpec) {
    comps := []config.ComponentConfig{
        {
            Name:   "producer",
            Ports:  []config.PortConfig{{Name: "out", Direction: "output", Type: "/int32_t"}, {Name: "text", Direction: "output", Type: "/std/string"}},
            Labels: map[string]string{"role": "source"},
            Properties: []config.PropertyConfig{
                {Name: "gain", Type: "/double", Doc: "output gain", Value: "1.5"},
                {Name: "label", Type: "/std/string"},
            },
        },
        {
            Name:  "consumer",
            Ports: []config.PortConfig{{Name: "in", Direction: "input", Type: "/int32_t"}, {Name: "text", Direction: "input", Type: "/std/string"}},
        },
    }
    conns := []config.ConnectionSpec{
        {From: "producer.out", To: "consumer.in", Transport: "tcp", Type: "buffer", Size: 4},
        {From: "producer.text", To: "consumer.text", Transport: "stream", Topic: "/deploy/text"},
    }
    return comps, conns
}

func TestPolicyFor(t *testing.T) {
    pol, err := PolicyFor(config.ConnectionSpec{Transport: "udp", Type: "circular", Size: 3, Init: true, Format: "json", Priority: "bulk", RateLimit: 10})
    require.NoError(t, err)
    want := port.ConnPolicy{Type: port.Circular, Size: 3, Init: true, Transport: transports.UDP, Format: protocol.FormatJSON, Priority: dispatch.Bulk, RateLimit: 10}
    require.Empty(t, cmp.Diff(want, pol))

    pol, err = PolicyFor(config.ConnectionSpec{})
    require.NoError(t, err)
    require.Equal(t, transports.Local, pol.Transport)
    require.Equal(t, port.Data, pol.Type)

    for _, cs := range []config.ConnectionSpec{
        {Transport: "pigeon"},
        {Type: "buffer"},
        {Format: "xml"},
        {Priority: "urgent"},
        {Transport: "stream"},
    } {
        _, err := PolicyFor(cs)
        require.Error(t, err, "%+v", cs)
    }
}

func TestDeployFromConfiguration(t *testing.T) {
    h := newHost(t, nil)
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    comps, conns := deployment()
    require.NoError(t, h.Deploy(ctx, comps, conns))
    require.Equal(t, []string{"consumer", "producer"}, h.TaskContexts())

    gain, err := h.Property("producer.gain")
    require.NoError(t, err)
    v, err := gain.Get()
    require.NoError(t, err)
    require.Equal(t, 1.5, v.Native())

    out, err := h.Port("producer.out")
    require.NoError(t, err)
    in, err := h.Port("consumer.in")
    require.NoError(t, err)
    for i := int32(1); i <= 3; i++ { require.NoError(t, out.(*port.OutputPort).WriteNative(i)) }
    for i := int32(1); i <= 3; i++ {
        var got any
        require.Eventually(t, func() bool {
            v, st := in.(*port.InputPort).Read()
            got = v.Native()
            return st == port.NewData
        }, 5*time.Second, 2*time.Millisecond)
        require.Equal(t, i, got)
    }

    text, err := h.Port("producer.text")
    require.NoError(t, err)
    require.Eventually(t, text.Connected, 5*time.Second, 5*time.Millisecond)
    require.NoError(t, text.(*port.OutputPort).WriteNative("streamed"))
    textIn, err := h.Port("consumer.text")
    require.NoError(t, err)
    require.Eventually(t, func() bool {
        v, st := textIn.(*port.InputPort).Read()
        return st == port.NewData && v.Native() == "streamed"
    }, 5*time.Second, 2*time.Millisecond)

    descs, next := h.Components(registry.ListOptions{Labels: map[string]string{"role": "source"}})
    require.Empty(t, next)
    require.Len(t, descs, 1)
    require.Equal(t, "producer", descs[0].Name)
    require.Equal(t, h.Process(), descs[0].Process)
    require.Len(t, descs[0].Ports, 2)
    require.NotEmpty(t, descs[0].Endpoints)

    require.ErrorIs(t, h.Deploy(ctx, comps[:1], nil), ErrExists)
}

func TestDeployErrors(t *testing.T) {
    h := newHost(t, nil)
    ctx := context.Background()
    comps, _ := deployment()
    require.NoError(t, h.Deploy(ctx, comps, nil))

    _, err := h.ConnectPaths(ctx, "consumer.in", "producer.out", port.DefaultPolicy())
    require.Error(t, err)
    _, err = h.ConnectPaths(ctx, "producer.out", "consumer.text", port.DefaultPolicy())
    require.ErrorIs(t, err, port.ErrTypeMismatch)
    _, err = h.ConnectPaths(ctx, "producer.missing", "consumer.in", port.DefaultPolicy())
    require.ErrorIs(t, err, ErrNotFound)
    _, err = h.Port("nodot")
    require.Error(t, err)

    bad := []config.ComponentConfig{{Name: "broken", Properties: []config.PropertyConfig{{Name: "p", Type: "/int8_t", Value: "300"}}}}
    require.Error(t, h.Deploy(ctx, bad, nil))
}

func TestRemoteDeploymentBetweenHosts(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    server := newHost(t, func(c *config.Config) { c.Transports = []config.TransportConfig{{Kind: "quic"}} })
    require.NoError(t, server.Listen(ctx))
    comps, _ := deployment()
    require.NoError(t, server.Deploy(ctx, comps[1:], nil))
    ep, ok := server.Connections().Endpoint(transports.QUIC.Kind())
    require.True(t, ok)

    client := newHost(t, nil)
    conns := []config.ConnectionSpec{{From: "producer.out", To: "consumer.in", Endpoint: ep.String(), Transport: "quic"}}
    require.NoError(t, client.Deploy(ctx, comps[:1], conns))

    out, err := client.Port("producer.out")
    require.NoError(t, err)
    require.NoError(t, out.(*port.OutputPort).WriteNative(int32(-42)))
    in, err := server.Port("consumer.in")
    require.NoError(t, err)
    require.Eventually(t, func() bool {
        v, st := in.(*port.InputPort).Read()
        return st == port.NewData && v.Native() == int32(-42)
    }, 5*time.Second, 2*time.Millisecond)

    bad := []config.ConnectionSpec{{From: "producer.out", To: "consumer.nope", Endpoint: ep.String(), Transport: "quic"}}
    require.ErrorIs(t, client.Deploy(ctx, nil, bad), connection.ErrRejected)
}

func TestPropertiesPersistAcrossRestarts(t *testing.T) {
    path := filepath.Join(t.TempDir(), "db", "props.db")
    persist := func(c *config.Config) {
        c.Properties.Persist = true
        c.Properties.Path = path
    }
    comps, _ := deployment()
    ctx := context.Background()

    first := newHost(t, persist)
    require.NoError(t, first.Deploy(ctx, comps[:1], nil))
    label, err := first.Property("producer.label")
    require.NoError(t, err)
    require.NoError(t, label.Set("saved"))
    gain, err := first.Property("producer.gain")
    require.NoError(t, err)
    require.NoError(t, gain.Set(-3.25))
    require.NoError(t, first.Close())

    second := newHost(t, persist)
    require.NoError(t, second.Deploy(ctx, comps[:1], nil))
    label, err = second.Property("producer.label")
    require.NoError(t, err)
    v, err := label.Get()
    require.NoError(t, err)
    require.Equal(t, "saved", v.Native())
    gain, err = second.Property("producer.gain")
    require.NoError(t, err)
    v, err = gain.Get()
    require.NoError(t, err)
    require.Equal(t, -3.25, v.Native())
}

func TestRemoveTaskContext(t *testing.T) {
    h := newHost(t, nil)
    ctx := context.Background()
    comps, conns := deployment()
    require.NoError(t, h.Deploy(ctx, comps, conns[:1]))
    in, err := h.Port("consumer.in")
    require.NoError(t, err)
    require.True(t, in.Connected())

    require.NoError(t, h.RemoveTaskContext(ctx, "producer"))
    require.Eventually(t, func() bool { return !in.Connected() }, 5*time.Second, 5*time.Millisecond)
    _, ok := h.Registry().Get("producer")
    require.False(t, ok)
    require.ErrorIs(t, h.RemoveTaskContext(ctx, "producer"), ErrNotFound)
}

func TestServeUntilCancelled(t *testing.T) {
    comps, conns := deployment()
    h := newHost(t, func(c *config.Config) {
        c.Transports = []config.TransportConfig{{Kind: "mem"}, {Kind: "tcp", Listen: "127.0.0.1:0"}}
        c.Components, c.Connections = comps, conns
    })
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- h.Serve(ctx) }()
    require.Eventually(t, func() bool {
        p, err := h.Port("producer.text")
        return err == nil && p.Connected()
    }, 5*time.Second, 5*time.Millisecond)
    require.Equal(t, []string{"consumer", "producer"}, h.TaskContexts())
    require.Len(t, h.Connections().Endpoints(), 2)
    cancel()
    require.NoError(t, <-done)

    names := h.TransportNames()
    require.Equal(t, "TCP", names[transports.TCP])
    require.Equal(t, "STREAM", names[transports.Stream])
}

func TestClosedHostRefusesTaskContexts(t *testing.T) {
    h := newHost(t, nil)
    require.NoError(t, h.Close())
    _, err := h.CreateTaskContext("late")
    require.ErrorIs(t, err, ErrClosed)
}

func TestRemovePortWithdrawsStream(t *testing.T) {
    h := newHost(t, nil)
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    pub, err := h.CreateTaskContext("pub")
    require.NoError(t, err)
    out, err := pub.CreateOutputPort("x", "/int32_t")
    require.NoError(t, err)
    require.NoError(t, h.CreateStream(ctx, out, "/republish", port.DefaultPolicy()))
    adverts, err := h.Directory().Lookup(ctx, "/republish")
    require.NoError(t, err)
    require.Len(t, adverts, 1)

    require.NoError(t, pub.RemovePort("x"))
    adverts, err = h.Directory().Lookup(ctx, "/republish")
    require.NoError(t, err)
    require.Empty(t, adverts)

    again, err := pub.CreateOutputPort("y", "/int32_t")
    require.NoError(t, err)
    require.NoError(t, h.CreateStream(ctx, again, "/republish", port.DefaultPolicy()))
    sub, err := h.CreateTaskContext("sub")
    require.NoError(t, err)
    in, err := sub.CreateInputPort("x", "/int32_t")
    require.NoError(t, err)
    require.NoError(t, h.CreateStream(ctx, in, "/republish", port.DefaultPolicy()))
    require.Eventually(t, again.Connected, 5*time.Second, 5*time.Millisecond)
    require.NoError(t, again.WriteNative(int32(7)))
    require.Eventually(t, func() bool {
        v, st := in.Read()
        return st == port.NewData && v.Native() == int32(7)
    }, 5*time.Second, 2*time.Millisecond)
}
