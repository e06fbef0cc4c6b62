package process

import (
    "context"
    "fmt"
    "math"
    "strings"
    "time"

    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/transports"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

// Probe is one value sent through a connection by SelfTest.
type Probe struct {
    Type  string
    Value typekit.Value
}

// Result reports one probe of a self test.
type Result struct {
    Transport transports.ID
    Type      string
    Sent      string
    Received  string
    Err       error
}

// OK reports whether the probe came back bit-identical.
func (r Result) OK() bool { return r.Err == nil }

// Probes lists the extremal values of every std type: integer limits of
// each width, both booleans, doubles, a float converted from a double and
// strings.
func Probes(types *typekit.Registry) ([]Probe, error) {
    var natives = []struct {
        typename string
        values   []any
    }{
        {"/int8_t", []any{int8(math.MinInt8), int8(math.MaxInt8)}},
        {"/uint8_t", []any{uint8(0), uint8(math.MaxUint8)}},
        {"/int16_t", []any{int16(math.MinInt16), int16(math.MaxInt16)}},
        {"/uint16_t", []any{uint16(0), uint16(math.MaxUint16)}},
        {"/int32_t", []any{int32(math.MinInt32), int32(math.MaxInt32)}},
        {"/uint32_t", []any{uint32(0), uint32(math.MaxUint32)}},
        {"/int64_t", []any{int64(math.MinInt64), int64(math.MaxInt64)}},
        {"/uint64_t", []any{uint64(0), uint64(math.MaxUint64)}},
        {"/bool", []any{true, false}},
        {"/double", []any{math.MaxFloat64, -math.SmallestNonzeroFloat64}},
        {"/std/string", []any{"", "typeport ✓"}},
    }
    var out []Probe
    for _, n := range natives {
        for _, x := range n.values {
            v, err := types.NewValue(n.typename, x)
            if err != nil { return nil, err }
            out = append(out, Probe{Type: n.typename, Value: v})
        }
    }
    d, err := types.NewValue("/double", 0.5)
    if err != nil { return nil, err }
    f, err := types.Convert(d, "/float")
    if err != nil { return nil, err }
    return append(out, Probe{Type: "/float", Value: f}), nil
}

// SelfTest connects a scratch producer to a scratch consumer over id, sends
// every probe and checks each one is read back unchanged. The scratch task
// contexts are removed afterwards.
func (h *Host) SelfTest(ctx context.Context, id transports.ID, timeout time.Duration) ([]Result, error) {
    probes, err := Probes(h.types)
    if err != nil { return nil, err }
    suffix := strings.ToLower(id.String())
    prodName, consName := "selftest_producer_"+suffix, "selftest_consumer_"+suffix
    producer, err := h.CreateTaskContext(prodName)
    if err != nil { return nil, err }
    defer func() { _ = h.RemoveTaskContext(context.Background(), prodName) }()
    consumer, err := h.CreateTaskContext(consName)
    if err != nil { return nil, err }
    defer func() { _ = h.RemoveTaskContext(context.Background(), consName) }()

    pairs := map[string][2]port.Port{}
    var results []Result
    for _, p := range probes {
        r := Result{Transport: id, Type: p.Type, Sent: p.Value.String()}
        pair, ok := pairs[p.Type]
        if !ok {
            pair, err = h.selfTestPair(ctx, producer.Name(), consumer.Name(), id, p.Type)
            if err != nil {
                r.Err = err
                results = append(results, r)
                continue
            }
            pairs[p.Type] = pair
        }
        out, in := pair[0].(*port.OutputPort), pair[1].(*port.InputPort)
        got, err := exchange(ctx, out, in, p.Value, timeout)
        r.Received, r.Err = got.String(), err
        results = append(results, r)
    }
    return results, nil
}

func (h *Host) selfTestPair(ctx context.Context, prod, cons string, id transports.ID, typename string) ([2]port.Port, error) {
    name := strings.ReplaceAll(strings.TrimPrefix(typename, "/"), "/", "_")
    ptc, _ := h.TaskContext(prod)
    ctc, _ := h.TaskContext(cons)
    out, err := ptc.CreateOutputPort(name, typename)
    if err != nil { return [2]port.Port{}, err }
    in, err := ctc.CreateInputPort(name, typename)
    if err != nil { return [2]port.Port{}, err }
    pol := port.DefaultPolicy()
    pol.Transport = id
    if transports.IsStream(id) { pol.NameID = "/selftest/" + h.cfg.Process + typename }
    if _, err := h.Connect(ctx, out, in, pol); err != nil { return [2]port.Port{}, err }
    return [2]port.Port{out, in}, nil
}

// exchange writes v until it is read back, or the timeout expires. Stream
// subscriptions attach asynchronously so early writes may be lost.
func exchange(ctx context.Context, out *port.OutputPort, in *port.InputPort, v typekit.Value, timeout time.Duration) (typekit.Value, error) {
    ctx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()
    tick := time.NewTicker(2 * time.Millisecond)
    defer tick.Stop()
    var last typekit.Value
    for n := 0; ; n++ {
        if n%50 == 0 {
            if err := out.Write(v); err != nil { return last, err }
        }
        if got, st := in.Read(); st == port.NewData {
            last = got
            if got.Equal(v) { return got, nil }
        }
        select {
        case <-ctx.Done():
            if last.Valid() { return last, fmt.Errorf("got %s, want %s", last, v) }
            return last, fmt.Errorf("no sample within %s", timeout)
        case <-tick.C:
        }
    }
}
