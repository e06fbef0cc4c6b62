package transport

import (
    "context"
    "sort"
    "sync"
)

// DialFunc creates the session for an endpoint on first use.
type DialFunc func(ctx context.Context) (Session, error)

// Manager shares one outbound Session per endpoint between all the
// connections that use it, and closes it when the last one is released.
type Manager struct {
    mu      sync.Mutex
    entries map[string]*entry
}

type entry struct {
    s     Session
    err   error
    refs  int
    ready chan struct{}
}

func NewManager() *Manager { return &Manager{entries: make(map[string]*entry)} }

// Acquire returns the shared session for key, dialing it when absent.
// created is true for the caller that triggered the dial. Every
// successful Acquire must be paired with Release.
func (m *Manager) Acquire(ctx context.Context, key string, dial DialFunc) (s Session, created bool, err error) {
    m.mu.Lock()
    if e := m.entries[key]; e != nil {
        e.refs++
        m.mu.Unlock()
        select {
        case <-e.ready:
        case <-ctx.Done():
            m.Release(key)
            return nil, false, ctx.Err()
        }
        if e.err != nil { return nil, false, e.err }
        return e.s, false, nil
    }
    e := &entry{refs: 1, ready: make(chan struct{})}
    m.entries[key] = e
    m.mu.Unlock()

    e.s, e.err = dial(ctx)
    if e.err != nil {
        m.mu.Lock()
        if m.entries[key] == e { delete(m.entries, key) }
        m.mu.Unlock()
    }
    close(e.ready)
    if e.err != nil { return nil, false, e.err }
    return e.s, true, nil
}

// Release drops one reference; the session is closed with the last one.
func (m *Manager) Release(key string) (closed bool) {
    m.mu.Lock()
    e := m.entries[key]
    if e == nil {
        m.mu.Unlock()
        return false
    }
    e.refs--
    if e.refs > 0 {
        m.mu.Unlock()
        return false
    }
    delete(m.entries, key)
    m.mu.Unlock()
    <-e.ready
    if e.s != nil { _ = e.s.Close() }
    return true
}

// Evict forgets a failed session regardless of its references so the next
// Acquire dials again.
func (m *Manager) Evict(key string, s Session) {
    m.mu.Lock()
    if e := m.entries[key]; e != nil && e.s == s { delete(m.entries, key) }
    m.mu.Unlock()
    if s != nil { _ = s.Close() }
}

// Refs reports the reference count of key.
func (m *Manager) Refs(key string) int {
    m.mu.Lock()
    defer m.mu.Unlock()
    if e := m.entries[key]; e != nil { return e.refs }
    return 0
}

// Keys returns the endpoints with live sessions.
func (m *Manager) Keys() []string {
    m.mu.Lock()
    out := make([]string, 0, len(m.entries))
    for k := range m.entries { out = append(out, k) }
    m.mu.Unlock()
    sort.Strings(out)
    return out
}

// CloseAll closes every shared session.
func (m *Manager) CloseAll() {
    m.mu.Lock()
    entries := m.entries
    m.entries = make(map[string]*entry)
    m.mu.Unlock()
    for _, e := range entries {
        <-e.ready
        if e.s != nil { _ = e.s.Close() }
    }
}

// Rank is the preference order across kinds; higher is better.
func Rank(k Kind) int {
    switch k {
    case KindMem:
        return 120
    case KindQUIC:
        return 100
    case KindWinPipe:
        return 95
    case KindTCP:
        return 90
    case KindGRPC:
        return 80
    case KindUDP:
        return 50
    case KindSerial:
        return 30
    default:
        return 0
    }
}

// Better decides whether a should be preferred over b.
func Better(a, b Session) bool {
    ra := Rank(a.TransportKind())
    rb := Rank(b.TransportKind())
    if ra != rb { return ra > rb }
    qa := a.Quality()
    qb := b.Quality()
    // Prefer smaller RTT
    if qa.RTT != qb.RTT { return qa.RTT < qb.RTT }
    // Fallback to newer establishment
    return qa.EstablishedAt.After(qb.EstablishedAt)
}

// SortEndpoints orders endpoints best first.
func SortEndpoints(eps []Endpoint) {
    sort.SliceStable(eps, func(i, j int) bool { return Rank(eps[i].Kind) > Rank(eps[j].Kind) })
}
