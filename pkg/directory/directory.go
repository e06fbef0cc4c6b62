// Package directory maps stream topics to the processes publishing them.
package directory

import (
    "context"
    "errors"
    "sort"
    "strings"
    "sync"
)

var ErrClosed = errors.New("directory: closed")

// Advert announces that a process publishes a topic.
type Advert struct {
    Topic     string   `json:"topic"`
    Process   string   `json:"process"`
    Type      string   `json:"type"`
    Format    string   `json:"format,omitempty"`
    Endpoints []string `json:"endpoints"`
}

// Directory is where publishers advertise topics and subscribers find them.
type Directory interface {
    Advertise(ctx context.Context, a Advert) error
    Withdraw(ctx context.Context, topic, process string) error
    Lookup(ctx context.Context, topic string) ([]Advert, error)
    // Watch sends the full set of adverts of a topic, first immediately
    // and then after every change, until ctx is done.
    Watch(ctx context.Context, topic string) (<-chan []Advert, error)
    Close() error
}

func validTopic(topic string) error {
    if strings.TrimSpace(topic) == "" { return errors.New("directory: empty topic") }
    return nil
}

func sortAdverts(as []Advert) {
    sort.Slice(as, func(i, j int) bool { return as[i].Process < as[j].Process })
}

// Memory is a Directory living in the Go process.
type Memory struct {
    mu       sync.Mutex
    closed   bool
    topics   map[string]map[string]Advert
    watchers map[string]map[chan []Advert]struct{}
}

func NewMemory() *Memory {
    return &Memory{topics: make(map[string]map[string]Advert), watchers: make(map[string]map[chan []Advert]struct{})}
}

var (
    sharedOnce sync.Once
    shared     *Memory
)

// Shared returns the in-memory directory common to the whole Go process.
func Shared() *Memory {
    sharedOnce.Do(func() { shared = NewMemory() })
    return shared
}

func (m *Memory) snapshotLocked(topic string) []Advert {
    out := make([]Advert, 0, len(m.topics[topic]))
    for _, a := range m.topics[topic] {
        a.Endpoints = append([]string(nil), a.Endpoints...)
        out = append(out, a)
    }
    sortAdverts(out)
    return out
}

func (m *Memory) notifyLocked(topic string) {
    snap := m.snapshotLocked(topic)
    for ch := range m.watchers[topic] {
        // keep only the newest snapshot for slow watchers
        select {
        case <-ch:
        default:
        }
        select {
        case ch <- snap:
        default:
        }
    }
}

func (m *Memory) Advertise(_ context.Context, a Advert) error {
    if err := validTopic(a.Topic); err != nil { return err }
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return ErrClosed }
    byProc := m.topics[a.Topic]
    if byProc == nil {
        byProc = make(map[string]Advert)
        m.topics[a.Topic] = byProc
    }
    a.Endpoints = append([]string(nil), a.Endpoints...)
    byProc[a.Process] = a
    m.notifyLocked(a.Topic)
    return nil
}

func (m *Memory) Withdraw(_ context.Context, topic, process string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return ErrClosed }
    if _, ok := m.topics[topic][process]; !ok { return nil }
    delete(m.topics[topic], process)
    if len(m.topics[topic]) == 0 { delete(m.topics, topic) }
    m.notifyLocked(topic)
    return nil
}

func (m *Memory) Lookup(_ context.Context, topic string) ([]Advert, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return nil, ErrClosed }
    return m.snapshotLocked(topic), nil
}

func (m *Memory) Watch(ctx context.Context, topic string) (<-chan []Advert, error) {
    if err := validTopic(topic); err != nil { return nil, err }
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil, ErrClosed
    }
    ch := make(chan []Advert, 1)
    if m.watchers[topic] == nil { m.watchers[topic] = make(map[chan []Advert]struct{}) }
    m.watchers[topic][ch] = struct{}{}
    ch <- m.snapshotLocked(topic)
    m.mu.Unlock()

    out := make(chan []Advert)
    go func() {
        defer close(out)
        defer m.unwatch(topic, ch)
        for {
            select {
            case <-ctx.Done():
                return
            case snap, ok := <-ch:
                if !ok { return }
                select {
                case out <- snap:
                case <-ctx.Done():
                    return
                }
            }
        }
    }()
    return out, nil
}

func (m *Memory) unwatch(topic string, ch chan []Advert) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.watchers[topic][ch]; !ok { return }
    delete(m.watchers[topic], ch)
    if len(m.watchers[topic]) == 0 { delete(m.watchers, topic) }
}

// Close ends every watch. The shared directory ignores Close.
func (m *Memory) Close() error {
    if m == shared { return nil }
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return nil }
    m.closed = true
    for topic, ws := range m.watchers {
        for ch := range ws { close(ch) }
        delete(m.watchers, topic)
    }
    return nil
}
