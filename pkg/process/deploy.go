package process

import (
    "context"
    "fmt"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/config"
    "github.com/rock-core/base-orogen-std/pkg/dispatch"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/transports"
)

// PolicyFor builds the connection policy a configured connection asks for.
// Unset fields keep the port.DefaultPolicy values.
func PolicyFor(cs config.ConnectionSpec) (port.ConnPolicy, error) {
    pol := port.DefaultPolicy()
    var err error
    if cs.Transport != "" {
        if pol.Transport, err = transports.ParseID(cs.Transport); err != nil { return pol, err }
    }
    if pol.Type, err = port.ParseChannelType(cs.Type); err != nil { return pol, err }
    pol.Size, pol.Init, pol.NameID, pol.RateLimit = cs.Size, cs.Init, cs.Topic, cs.RateLimit
    if pol.Format, err = protocol.ParseFormat(cs.Format); err != nil { return pol, err }
    if cs.Priority != "" {
        if pol.Priority, err = dispatch.ParseClass(cs.Priority); err != nil { return pol, err }
    }
    return pol, pol.Validate()
}

// Deploy creates the given components and then makes the given
// connections. Property values are taken from the configuration, then from
// the property store when persistence is enabled.
func (h *Host) Deploy(ctx context.Context, comps []config.ComponentConfig, conns []config.ConnectionSpec) error {
    for _, c := range comps {
        if err := h.deployComponent(ctx, c); err != nil { return fmt.Errorf("deploy %s: %w", c.Name, err) }
    }
    for i, cs := range conns {
        id, err := h.deployConnection(ctx, cs)
        if err != nil { return fmt.Errorf("deploy connections[%d]: %w", i, err) }
        zap.L().Info("connection deployed", zap.String("from", cs.From), zap.String("to", cs.To), zap.String("id", id))
    }
    return nil
}

func (h *Host) deployComponent(ctx context.Context, c config.ComponentConfig) error {
    tc, err := h.CreateTaskContext(c.Name)
    if err != nil { return err }
    for _, p := range c.Ports {
        if p.Direction == "input" {
            _, err = tc.CreateInputPort(p.Name, p.Type)
        } else {
            _, err = tc.CreateOutputPort(p.Name, p.Type)
        }
        if err != nil { return err }
    }
    for _, pc := range c.Properties {
        prop, err := tc.CreateProperty(pc.Name, pc.Type, pc.Doc)
        if err != nil { return err }
        if pc.Value == "" { continue }
        v, err := h.types.Parse(pc.Type, pc.Value)
        if err != nil { return fmt.Errorf("property %s: %w", prop.Path(), err) }
        if err := prop.SetValue(v); err != nil { return err }
    }
    if h.props != nil {
        n, err := tc.LoadProperties(ctx, h.props)
        if err != nil { return err }
        if n > 0 { zap.L().Info("properties restored", zap.String("component", c.Name), zap.Int("count", n)) }
    }

    h.mu.Lock()
    if len(c.Labels) > 0 { h.labels[c.Name] = c.Labels }
    err = h.registerLocked(tc)
    h.mu.Unlock()
    return err
}

func (h *Host) deployConnection(ctx context.Context, cs config.ConnectionSpec) (string, error) {
    pol, err := PolicyFor(cs)
    if err != nil { return "", err }
    if transports.IsStream(pol.Transport) {
        for _, path := range []string{cs.From, cs.To} {
            if path == "" { continue }
            p, err := h.Port(path)
            if err != nil { return "", err }
            if err := h.CreateStream(ctx, p, cs.Topic, pol); err != nil { return "", err }
        }
        return cs.Topic, nil
    }
    if cs.Endpoint != "" { return h.ConnectRemote(ctx, cs.From, cs.Endpoint, cs.To, pol) }
    return h.ConnectPaths(ctx, cs.From, cs.To, pol)
}
