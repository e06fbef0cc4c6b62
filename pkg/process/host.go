// Package process hosts task contexts in one process and wires them to the
// connection manager, the stream directory, the deployment registry and the
// property store according to the configuration.
package process

import (
    "context"
    "crypto/ed25519"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/component"
    "github.com/rock-core/base-orogen-std/pkg/config"
    "github.com/rock-core/base-orogen-std/pkg/connection"
    "github.com/rock-core/base-orogen-std/pkg/directory"
    "github.com/rock-core/base-orogen-std/pkg/identity"
    "github.com/rock-core/base-orogen-std/pkg/memkv"
    "github.com/rock-core/base-orogen-std/pkg/port"
    "github.com/rock-core/base-orogen-std/pkg/propstore"
    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/registry"
    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/udp"
    "github.com/rock-core/base-orogen-std/pkg/transports"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

var (
    ErrExists   = errors.New("process: task context already exists")
    ErrNotFound = errors.New("process: not found")
    ErrClosed   = errors.New("process: host closed")
)

// Options override parts of the configuration wiring, mostly for tests and
// embedding.
type Options struct {
    Directory  directory.Directory
    Transports map[transport.Kind]transport.Transport
    Identity   ed25519.PrivateKey
}

// Host owns the task contexts of a process.
type Host struct {
    cfg    *config.Config
    types  *typekit.Registry
    codecs *codec.Registry
    kv     *memkv.Store
    reg    *registry.Store
    dir    directory.Directory
    ownDir bool
    conns  *connection.Manager
    props  *propstore.Store

    mu     sync.Mutex
    closed bool
    tasks  map[string]*component.TaskContext
    labels map[string]map[string]string
}

// New builds a host from cfg. A nil cfg selects config.Default().
func New(cfg *config.Config, opts Options) (*Host, error) {
    if cfg == nil { cfg = config.Default() }
    h := &Host{cfg: cfg, tasks: make(map[string]*component.TaskContext), labels: make(map[string]map[string]string)}
    ok := false
    defer func() {
        if !ok { h.teardown() }
    }()

    types, err := loadTypes(cfg.Typekits)
    if err != nil { return nil, err }
    h.types = types
    if h.codecs, err = codec.NewDefaultRegistry(); err != nil { return nil, err }
    h.kv = memkv.New(memkv.Options{})
    h.reg = registry.NewStore(h.kv)

    if h.dir, h.ownDir, err = openDirectory(cfg.Directory, opts.Directory); err != nil { return nil, err }

    key := opts.Identity
    if key == nil && cfg.Identity.Sign {
        if key, _, err = identity.Load(cfg.Identity); err != nil { return nil, err }
    }

    trs := map[transport.Kind]transport.Transport{}
    if cfg.Net.UDPMaxDatagram > 0 {
        u := udp.New()
        u.MaxDatagram = cfg.Net.UDPMaxDatagram
        trs[transport.KindUDP] = u
    }
    for k, t := range opts.Transports { trs[k] = t }

    h.conns, err = connection.New(connection.Options{
        Process:           cfg.Process,
        Types:             h.types,
        Codecs:            h.codecs,
        Transports:        trs,
        Directory:         h.dir,
        Identity:          key,
        RequireSigned:     cfg.Connection.RequireSigned,
        MaxSkew:           ms(cfg.Connection.MaxSkewMS),
        AckTimeout:        ms(cfg.Connection.AckTimeoutMS),
        HeartbeatInterval: ms(cfg.Connection.HeartbeatMS),
        IdleTimeout:       ms(cfg.Connection.IdleTimeoutMS),
        Resolve:           h.resolveInput,
    })
    if err != nil { return nil, err }

    if cfg.Properties.Persist {
        if dir := filepath.Dir(cfg.Properties.Path); dir != "." {
            if err := os.MkdirAll(dir, 0o755); err != nil { return nil, fmt.Errorf("process: %w", err) }
        }
        if h.props, err = propstore.Open(cfg.Properties.Path); err != nil { return nil, err }
    }
    ok = true
    zap.L().Info("process host ready", zap.String("process", cfg.Process),
        zap.Strings("typekits", cfg.Typekits.Load), zap.String("directory", cfg.Directory.Kind))
    return h, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func loadTypes(c config.TypekitConfig) (*typekit.Registry, error) {
    r := typekit.NewRegistry()
    for _, name := range c.Load {
        if err := r.Load(name); err != nil { return nil, err }
    }
    for _, path := range c.Manifests {
        if err := r.LoadFile(path); err != nil { return nil, err }
    }
    return r, nil
}

func openDirectory(c config.DirectoryConfig, override directory.Directory) (directory.Directory, bool, error) {
    if override != nil { return override, false, nil }
    switch c.Kind {
    case "etcd":
        d, err := directory.NewEtcd(directory.EtcdOptions{
            Endpoints:   c.Endpoints,
            DialTimeout: ms(c.DialTimeoutMS),
            LeaseTTL:    time.Duration(c.LeaseTTLS) * time.Second,
        })
        if err != nil { return nil, false, err }
        return d, true, nil
    default:
        return directory.Shared(), false, nil
    }
}

func (h *Host) Process() string                  { return h.cfg.Process }
func (h *Host) Types() *typekit.Registry         { return h.types }
func (h *Host) Connections() *connection.Manager { return h.conns }
func (h *Host) Registry() *registry.Store        { return h.reg }
func (h *Host) Directory() directory.Directory   { return h.dir }

// TransportNames is the table of transports a client may select by id.
func (h *Host) TransportNames() map[transports.ID]string { return transports.Names() }

// Listen starts the configured transport listeners.
func (h *Host) Listen(ctx context.Context) error {
    for _, tc := range h.cfg.Transports {
        id, err := transports.ParseID(tc.Kind)
        if err != nil { return err }
        ep, err := h.conns.Listen(ctx, id, tc.Listen)
        if err != nil { return fmt.Errorf("process: listen %s: %w", tc.Kind, err) }
        zap.L().Info("listening", zap.String("endpoint", ep.String()))
    }
    return nil
}

// CreateTaskContext creates and registers a task context.
func (h *Host) CreateTaskContext(name string) (*component.TaskContext, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed { return nil, ErrClosed }
    if _, ok := h.tasks[name]; ok { return nil, fmt.Errorf("%w: %s", ErrExists, name) }
    tc, err := component.New(name, h.types, h.kv)
    if err != nil { return nil, err }
    tc.OnDisconnect(func(p port.Port) { h.conns.Disconnect(context.Background(), p) })
    h.tasks[name] = tc
    if err := h.registerLocked(tc); err != nil { zap.L().Warn("register failed", zap.String("component", name), zap.Error(err)) }
    return tc, nil
}

// TaskContext returns a task context by name.
func (h *Host) TaskContext(name string) (*component.TaskContext, bool) {
    h.mu.Lock()
    defer h.mu.Unlock()
    tc, ok := h.tasks[name]
    return tc, ok
}

// TaskContexts lists the task context names in order.
func (h *Host) TaskContexts() []string {
    h.mu.Lock()
    defer h.mu.Unlock()
    out := make([]string, 0, len(h.tasks))
    for n := range h.tasks { out = append(out, n) }
    sort.Strings(out)
    return out
}

// RemoveTaskContext disconnects, persists and drops a task context.
func (h *Host) RemoveTaskContext(ctx context.Context, name string) error {
    h.mu.Lock()
    tc, ok := h.tasks[name]
    delete(h.tasks, name)
    delete(h.labels, name)
    h.mu.Unlock()
    if !ok { return fmt.Errorf("%w: task context %s", ErrNotFound, name) }
    return h.retire(ctx, tc)
}

func (h *Host) retire(ctx context.Context, tc *component.TaskContext) error {
    tc.OnDisconnect(func(p port.Port) { h.conns.Disconnect(ctx, p) })
    var err error
    if h.props != nil { err = tc.SaveProperties(ctx, h.props) }
    tc.Close()
    h.reg.Deregister(tc.Name())
    return err
}

func (h *Host) registerLocked(tc *component.TaskContext) error {
    d := tc.Describe()
    d.Process = h.cfg.Process
    d.Endpoints = h.conns.Endpoints()
    d.Labels = h.labels[tc.Name()]
    return h.reg.Register(d, 0)
}

// Components refreshes the registry records of every task context and
// lists them.
func (h *Host) Components(opts registry.ListOptions) ([]registry.Descriptor, string) {
    h.mu.Lock()
    for _, tc := range h.tasks { _ = h.registerLocked(tc) }
    h.mu.Unlock()
    return h.reg.List(opts)
}

// SplitPath splits "component.port" at the first dot.
func SplitPath(path string) (string, string, error) {
    i := strings.IndexByte(path, '.')
    if i <= 0 || i == len(path)-1 { return "", "", fmt.Errorf("process: path %q is not component.port", path) }
    return path[:i], path[i+1:], nil
}

// Port finds a port by path.
func (h *Host) Port(path string) (port.Port, error) {
    comp, name, err := SplitPath(path)
    if err != nil { return nil, err }
    tc, ok := h.TaskContext(comp)
    if !ok { return nil, fmt.Errorf("%w: task context %s", ErrNotFound, comp) }
    p, ok := tc.Port(name)
    if !ok { return nil, fmt.Errorf("%w: port %s", ErrNotFound, path) }
    return p, nil
}

// Property finds a property by path.
func (h *Host) Property(path string) (*component.Property, error) {
    comp, name, err := SplitPath(path)
    if err != nil { return nil, err }
    tc, ok := h.TaskContext(comp)
    if !ok { return nil, fmt.Errorf("%w: task context %s", ErrNotFound, comp) }
    p, ok := tc.Property(name)
    if !ok { return nil, fmt.Errorf("%w: property %s", ErrNotFound, path) }
    return p, nil
}

func (h *Host) resolveInput(path string) (*port.InputPort, bool) {
    p, err := h.Port(path)
    if err != nil { return nil, false }
    in, ok := p.(*port.InputPort)
    return in, ok
}

// Connect connects two ports with pol and returns the connection id.
func (h *Host) Connect(ctx context.Context, out *port.OutputPort, in *port.InputPort, pol port.ConnPolicy) (string, error) {
    return h.conns.Connect(ctx, out, in, pol)
}

// ConnectPaths connects the output port at from to the input port at to.
func (h *Host) ConnectPaths(ctx context.Context, from, to string, pol port.ConnPolicy) (string, error) {
    out, err := h.output(from)
    if err != nil { return "", err }
    p, err := h.Port(to)
    if err != nil { return "", err }
    in, ok := p.(*port.InputPort)
    if !ok { return "", fmt.Errorf("process: %s is not an input port", to) }
    return h.conns.Connect(ctx, out, in, pol)
}

// ConnectRemote connects the output port at from to the input port named
// target in the process reachable at endpoint ("kind://address").
func (h *Host) ConnectRemote(ctx context.Context, from, endpoint, target string, pol port.ConnPolicy) (string, error) {
    out, err := h.output(from)
    if err != nil { return "", err }
    ep, err := transport.ParseEndpoint(endpoint)
    if err != nil { return "", err }
    return h.conns.ConnectRemote(ctx, out, ep, target, pol)
}

func (h *Host) output(path string) (*port.OutputPort, error) {
    p, err := h.Port(path)
    if err != nil { return nil, err }
    out, ok := p.(*port.OutputPort)
    if !ok { return nil, fmt.Errorf("process: %s is not an output port", path) }
    return out, nil
}

// CreateStream publishes or subscribes a port under topic.
func (h *Host) CreateStream(ctx context.Context, p port.Port, topic string, pol port.ConnPolicy) error {
    return h.conns.CreateStream(ctx, p, topic, pol)
}

// Disconnect removes every connection of p.
func (h *Host) Disconnect(ctx context.Context, p port.Port) { h.conns.Disconnect(ctx, p) }

// Serve listens, deploys the configured components and connections and
// blocks until ctx is done.
func (h *Host) Serve(ctx context.Context) error {
    if err := h.Listen(ctx); err != nil { return err }
    if err := h.Deploy(ctx, h.cfg.Components, h.cfg.Connections); err != nil { return err }
    zap.L().Info("process is running", zap.Strings("components", h.TaskContexts()), zap.Strings("endpoints", h.conns.Endpoints()))
    <-ctx.Done()
    return nil
}

// Close saves persisted properties, closes every task context and
// connection and releases the stores.
func (h *Host) Close() error {
    h.mu.Lock()
    if h.closed {
        h.mu.Unlock()
        return nil
    }
    h.closed = true
    tasks := make([]*component.TaskContext, 0, len(h.tasks))
    for _, tc := range h.tasks { tasks = append(tasks, tc) }
    h.tasks = map[string]*component.TaskContext{}
    h.mu.Unlock()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    var errs []error
    for _, tc := range tasks {
        if err := h.retire(ctx, tc); err != nil { errs = append(errs, err) }
    }
    errs = append(errs, h.teardown())
    return errors.Join(errs...)
}

func (h *Host) teardown() error {
    var errs []error
    if h.conns != nil { errs = append(errs, h.conns.Close()) }
    if h.ownDir && h.dir != nil { errs = append(errs, h.dir.Close()) }
    if h.props != nil { errs = append(errs, h.props.Close()) }
    if h.kv != nil { h.kv.Close() }
    return errors.Join(errs...)
}
