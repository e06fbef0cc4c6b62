// Package dispatch orders outbound frames of a link: strict priority
// between classes, deficit round robin between flows of a class.
package dispatch

import (
    "context"
    "fmt"
    "strings"
    "sync"
    "time"
)

// Class is a priority class: control > realtime > bulk
type Class int

const (
    Control Class = iota
    Realtime
    Bulk
    numClasses
)

func (c Class) String() string {
    switch c {
    case Control:
        return "control"
    case Realtime:
        return "realtime"
    case Bulk:
        return "bulk"
    default:
        return fmt.Sprintf("class(%d)", int(c))
    }
}

// ParseClass accepts "control", "realtime" and "bulk".
func ParseClass(s string) (Class, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "control":
        return Control, nil
    case "", "realtime":
        return Realtime, nil
    case "bulk":
        return Bulk, nil
    default:
        return Realtime, fmt.Errorf("dispatch: unknown class %q", s)
    }
}

type Item struct {
    Frame   []byte
    Flow    string // connection id
    Class   Class
    Arrived time.Time
}

// flow implements a DRR queue per connection
type flow struct {
    q       []Item
    deficit int
    quantum int
}

type level struct {
    flows map[string]*flow
    order []string // round robin order
    idx   int
}

// Queue: strict priority between levels, DRR within level.
type Queue struct {
    mu     sync.Mutex
    lvls   [numClasses]*level
    n      int
    notify chan struct{}
}

func New() *Queue {
    q := &Queue{notify: make(chan struct{}, 1)}
    for i := range q.lvls {
        q.lvls[i] = &level{flows: make(map[string]*flow), order: make([]string, 0, 8)}
    }
    return q
}

// Enqueue appends an item to the appropriate class/flow.
func (q *Queue) Enqueue(it Item) {
    if it.Class < Control || it.Class >= numClasses { it.Class = Bulk }
    if it.Arrived.IsZero() { it.Arrived = time.Now() }
    q.mu.Lock()
    lvl := q.lvls[it.Class]
    f := lvl.flows[it.Flow]
    if f == nil {
        f = &flow{quantum: chooseQuantum(it.Class)}
        lvl.flows[it.Flow] = f
        lvl.order = append(lvl.order, it.Flow)
    }
    f.q = append(f.q, it)
    q.n++
    q.mu.Unlock()
    select {
    case q.notify <- struct{}{}:
    default:
    }
}

func chooseQuantum(c Class) int {
    switch c {
    case Control:
        return 2048 // small packets, quick turn
    case Realtime:
        return 8192
    default:
        return 65536
    }
}

// Len is the number of queued items.
func (q *Queue) Len() int { q.mu.Lock(); defer q.mu.Unlock(); return q.n }

// Drop discards the queued items of a flow and returns how many were dropped.
func (q *Queue) Drop(flowKey string) int {
    q.mu.Lock()
    defer q.mu.Unlock()
    dropped := 0
    for _, lvl := range q.lvls {
        f := lvl.flows[flowKey]
        if f == nil { continue }
        dropped += len(f.q)
        delete(lvl.flows, flowKey)
        for i, k := range lvl.order {
            if k == flowKey {
                lvl.order = append(lvl.order[:i], lvl.order[i+1:]...)
                break
            }
        }
        if lvl.idx >= len(lvl.order) { lvl.idx = 0 }
    }
    q.n -= dropped
    return dropped
}

// Dequeue selects the next item using strict priority and DRR within a level.
// It blocks until an item is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
    for {
        if it, ok := q.TryDequeue(); ok { return it, nil }
        select {
        case <-ctx.Done():
            return Item{}, ctx.Err()
        case <-q.notify:
        }
    }
}

// TryDequeue pops the next item without blocking.
func (q *Queue) TryDequeue() (Item, bool) {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.n == 0 { return Item{}, false }
    for _, lvl := range q.lvls {
        if it, ok := lvl.pop(); ok {
            q.n--
            // wake another waiter if more work is left
            if q.n > 0 {
                select {
                case q.notify <- struct{}{}:
                default:
                }
            }
            return it, true
        }
    }
    return Item{}, false
}

// pop visits flows round robin, granting each visited flow one quantum,
// until a head item fits its flow's deficit.
func (lvl *level) pop() (Item, bool) {
    for {
        n := len(lvl.order)
        busy := false
        for i := 0; i < n; i++ {
            j := (lvl.idx + i) % n
            f := lvl.flows[lvl.order[j]]
            if len(f.q) == 0 { continue }
            busy = true
            sz := len(f.q[0].Frame)
            if sz > f.deficit {
                f.deficit += f.quantum
                if sz > f.deficit { continue }
            }
            it := f.q[0]
            f.q[0] = Item{}
            f.q = f.q[1:]
            f.deficit -= sz
            if len(f.q) == 0 { f.deficit = 0 }
            lvl.idx = (j + 1) % n
            return it, true
        }
        if !busy { return Item{}, false }
    }
}
