package directory

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    clientv3 "go.etcd.io/etcd/client/v3"
    "go.uber.org/zap"
)

// All keys live under /typeport/v1/ to avoid collisions with other tenants.
const etcdPrefix = "/typeport/v1/topics/"

func topicPrefix(topic string) string { return etcdPrefix + topic + "/" }

func advertKey(topic, process string) string { return topicPrefix(topic) + process }

// EtcdOptions configure an etcd directory.
type EtcdOptions struct {
    Endpoints   []string
    DialTimeout time.Duration
    // LeaseTTL bounds how long adverts of a dead process stay visible.
    LeaseTTL time.Duration
}

// Etcd is a Directory shared by every process reaching the same cluster.
// Adverts are attached to one lease kept alive while the directory is open.
type Etcd struct {
    client *clientv3.Client
    ttl    int64

    mu     sync.Mutex
    lease  clientv3.LeaseID
    cancel context.CancelFunc
}

func NewEtcd(opts EtcdOptions) (*Etcd, error) {
    if len(opts.Endpoints) == 0 { return nil, fmt.Errorf("directory: no etcd endpoints") }
    if opts.DialTimeout <= 0 { opts.DialTimeout = 5 * time.Second }
    if opts.LeaseTTL < time.Second { opts.LeaseTTL = 10 * time.Second }
    client, err := clientv3.New(clientv3.Config{Endpoints: opts.Endpoints, DialTimeout: opts.DialTimeout})
    if err != nil { return nil, fmt.Errorf("etcd dial: %w", err) }
    return &Etcd{client: client, ttl: int64(opts.LeaseTTL / time.Second)}, nil
}

func (e *Etcd) leaseID(ctx context.Context) (clientv3.LeaseID, error) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.lease != 0 { return e.lease, nil }
    resp, err := e.client.Grant(ctx, e.ttl)
    if err != nil { return 0, fmt.Errorf("etcd lease grant: %w", err) }
    kctx, cancel := context.WithCancel(context.Background())
    ka, err := e.client.KeepAlive(kctx, resp.ID)
    if err != nil {
        cancel()
        return 0, fmt.Errorf("etcd keepalive: %w", err)
    }
    go func(id clientv3.LeaseID) {
        for range ka {}
        // the channel closes when the lease is lost; the next advert takes a new one
        e.mu.Lock()
        if e.lease == id { e.lease = 0 }
        e.mu.Unlock()
        zap.L().Debug("etcd lease keepalive ended", zap.Int64("lease", int64(id)))
    }(resp.ID)
    e.lease, e.cancel = resp.ID, cancel
    return e.lease, nil
}

func (e *Etcd) Advertise(ctx context.Context, a Advert) error {
    if err := validTopic(a.Topic); err != nil { return err }
    id, err := e.leaseID(ctx)
    if err != nil { return err }
    data, err := json.Marshal(a)
    if err != nil { return fmt.Errorf("marshal: %w", err) }
    k := advertKey(a.Topic, a.Process)
    if _, err := e.client.Put(ctx, k, string(data), clientv3.WithLease(id)); err != nil {
        return fmt.Errorf("etcd put %q: %w", k, err)
    }
    return nil
}

func (e *Etcd) Withdraw(ctx context.Context, topic, process string) error {
    k := advertKey(topic, process)
    if _, err := e.client.Delete(ctx, k); err != nil { return fmt.Errorf("etcd delete %q: %w", k, err) }
    return nil
}

func (e *Etcd) Lookup(ctx context.Context, topic string) ([]Advert, error) {
    pfx := topicPrefix(topic)
    resp, err := e.client.Get(ctx, pfx, clientv3.WithPrefix())
    if err != nil { return nil, fmt.Errorf("etcd list %q: %w", pfx, err) }
    out := make([]Advert, 0, len(resp.Kvs))
    for _, kv := range resp.Kvs {
        var a Advert
        if err := json.Unmarshal(kv.Value, &a); err != nil { return nil, fmt.Errorf("unmarshal %q: %w", string(kv.Key), err) }
        out = append(out, a)
    }
    sortAdverts(out)
    return out, nil
}

func (e *Etcd) Watch(ctx context.Context, topic string) (<-chan []Advert, error) {
    if err := validTopic(topic); err != nil { return nil, err }
    first, err := e.Lookup(ctx, topic)
    if err != nil { return nil, err }
    wch := e.client.Watch(clientv3.WithRequireLeader(ctx), topicPrefix(topic), clientv3.WithPrefix())
    out := make(chan []Advert, 1)
    out <- first
    go func() {
        defer close(out)
        for wr := range wch {
            if err := wr.Err(); err != nil {
                zap.L().Warn("etcd watch failed", zap.String("topic", topic), zap.Error(err))
                return
            }
            snap, err := e.Lookup(ctx, topic)
            if err != nil { return }
            select {
            case out <- snap:
            case <-ctx.Done():
                return
            }
        }
    }()
    return out, nil
}

// Close revokes the lease, which removes every advert of this process.
func (e *Etcd) Close() error {
    e.mu.Lock()
    id, cancel := e.lease, e.cancel
    e.lease, e.cancel = 0, nil
    e.mu.Unlock()
    if cancel != nil { cancel() }
    if id != 0 {
        ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
        _, _ = e.client.Revoke(ctx, id)
        done()
    }
    return e.client.Close()
}
