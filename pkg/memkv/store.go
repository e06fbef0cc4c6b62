// Package memkv is a sharded, concurrency-safe in-memory key/value store
// with optional TTLs, a byte budget and cheap counters. Property bags and
// the deployment registry keep their encoded records in it.
package memkv

import (
    "container/heap"
    "sort"
    "strings"
    "sync"
    "sync/atomic"
    "time"
)

type Options struct {
    Shards   int    // number of shards (default 64)
    MaxBytes uint64 // hard limit on the total size of values (0 = unlimited)
}

func (o Options) withDefaults() Options {
    if o.Shards <= 0 { o.Shards = 64 }
    return o
}

type Store struct {
    opts      Options
    shards    []shard
    expq      expQueue
    wake      chan struct{}
    closeCh   chan struct{}
    closeOnce sync.Once
    wg        sync.WaitGroup

    nowFn func() time.Time

    mKeys    atomic.Int64
    mBytes   atomic.Uint64
    mSets    atomic.Uint64
    mGets    atomic.Uint64
    mHits    atomic.Uint64
    mMisses  atomic.Uint64
    mDels    atomic.Uint64
    mExpired atomic.Uint64
    mUpdates atomic.Uint64
}

type shard struct {
    mu sync.RWMutex
    m  map[string]*entry
}

type entry struct {
    val      []byte
    expireAt int64 // unix nano; 0 = never
}

func (e *entry) expired(now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

func New(opts Options) *Store {
    opts = opts.withDefaults()
    s := &Store{
        opts:    opts,
        shards:  make([]shard, opts.Shards),
        wake:    make(chan struct{}, 1),
        closeCh: make(chan struct{}),
        nowFn:   time.Now,
    }
    for i := range s.shards {
        s.shards[i].m = make(map[string]*entry)
    }
    s.wg.Add(1)
    go s.expirer()
    return s
}

// Close stops the expiry goroutine. The data stays readable.
func (s *Store) Close() {
    s.closeOnce.Do(func() { close(s.closeCh) })
    s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
    // FNV-1a 64
    var h uint64 = 1469598103934665603
    for i := 0; i < len(key); i++ {
        h ^= uint64(key[i])
        h *= 1099511628211
    }
    return &s.shards[int(h%uint64(len(s.shards)))]
}

func clone(b []byte) []byte {
    if b == nil { return nil }
    out := make([]byte, len(b))
    copy(out, b)
    return out
}

// reserve accounts for delta more bytes, refusing past MaxBytes.
func (s *Store) reserve(delta int) bool {
    if delta <= 0 {
        s.release(-delta)
        return true
    }
    for {
        cur := s.mBytes.Load()
        next := cur + uint64(delta)
        if s.opts.MaxBytes != 0 && next > s.opts.MaxBytes { return false }
        if s.mBytes.CompareAndSwap(cur, next) { return true }
    }
}

func (s *Store) release(n int) {
    if n <= 0 { return }
    for {
        cur := s.mBytes.Load()
        next := uint64(0)
        if uint64(n) < cur { next = cur - uint64(n) }
        if s.mBytes.CompareAndSwap(cur, next) { return }
    }
}

// removeLocked drops key from sh, which must be locked.
func (s *Store) removeLocked(sh *shard, key string, e *entry, expired bool) {
    delete(sh.m, key)
    s.mKeys.Add(-1)
    s.release(len(e.val))
    if expired { s.mExpired.Add(1) } else { s.mDels.Add(1) }
}

// Set stores a copy of val. It returns false when the byte budget would be
// exceeded; the previous value is then kept.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
    expAt := int64(0)
    if ttl > 0 { expAt = s.nowFn().Add(ttl).UnixNano() }
    v := clone(val)
    if v == nil { v = []byte{} }

    sh := s.shardFor(key)
    sh.mu.Lock()
    prev, existed := sh.m[key]
    oldLen := 0
    if existed { oldLen = len(prev.val) }
    if !s.reserve(len(v) - oldLen) {
        sh.mu.Unlock()
        return false
    }
    sh.m[key] = &entry{val: v, expireAt: expAt}
    if !existed { s.mKeys.Add(1) }
    s.mSets.Add(1)
    sh.mu.Unlock()
    if expAt != 0 { s.enqueueExpire(key, expAt) }
    return true
}

// Get returns a copy of the value.
func (s *Store) Get(key string) ([]byte, bool) {
    s.mGets.Add(1)
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    var val []byte
    exp := false
    if ok {
        exp = e.expired(s.nowFn().UnixNano())
        if !exp { val = clone(e.val) }
    }
    sh.mu.RUnlock()
    if !ok || exp {
        if exp { s.expireKey(key) }
        s.mMisses.Add(1)
        return nil, false
    }
    s.mHits.Add(1)
    return val, true
}

// Update replaces the value of an existing key with fn(old). fn must not
// retain old. It returns false when the key is missing or the budget
// would be exceeded.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok { return false }
    if e.expired(s.nowFn().UnixNano()) {
        s.removeLocked(sh, key, e, true)
        return false
    }
    nv := clone(fn(e.val))
    if nv == nil { nv = []byte{} }
    if !s.reserve(len(nv) - len(e.val)) { return false }
    e.val = nv
    s.mUpdates.Add(1)
    return true
}

func (s *Store) Exists(key string) bool {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    ok = ok && !e.expired(s.nowFn().UnixNano())
    sh.mu.RUnlock()
    return ok
}

func (s *Store) Delete(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok { return false }
    s.removeLocked(sh, key, e, false)
    return true
}

// Expire sets a TTL on an existing key; ttl <= 0 deletes it.
func (s *Store) Expire(key string, ttl time.Duration) bool {
    if ttl <= 0 { return s.Delete(key) }
    now := s.nowFn()
    exp := now.Add(ttl).UnixNano()
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok && e.expired(now.UnixNano()) {
        s.removeLocked(sh, key, e, true)
        ok = false
    }
    if ok { e.expireAt = exp }
    sh.mu.Unlock()
    if ok { s.enqueueExpire(key, exp) }
    return ok
}

// TTL returns the remaining lifetime; 0 with ok means no expiry.
func (s *Store) TTL(key string) (time.Duration, bool) {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    var exp int64
    if ok { exp = e.expireAt }
    sh.mu.RUnlock()
    if !ok { return 0, false }
    if exp == 0 { return 0, true }
    now := s.nowFn().UnixNano()
    if exp <= now {
        s.expireKey(key)
        return 0, false
    }
    return time.Duration(exp - now), true
}

// Keys returns the live keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
    now := s.nowFn().UnixNano()
    var out []string
    for i := range s.shards {
        sh := &s.shards[i]
        sh.mu.RLock()
        for k, e := range sh.m {
            if strings.HasPrefix(k, prefix) && !e.expired(now) { out = append(out, k) }
        }
        sh.mu.RUnlock()
    }
    sort.Strings(out)
    return out
}

// DeletePrefix removes every key with the prefix and returns the count.
func (s *Store) DeletePrefix(prefix string) int {
    n := 0
    for _, k := range s.Keys(prefix) {
        if s.Delete(k) { n++ }
    }
    return n
}

func (s *Store) expireKey(key string) {
    sh := s.shardFor(key)
    sh.mu.Lock()
    if e, ok := sh.m[key]; ok && e.expired(s.nowFn().UnixNano()) {
        s.removeLocked(sh, key, e, true)
    }
    sh.mu.Unlock()
}

// Stats is a snapshot of the counters.
type Stats struct {
    Keys    int64
    Bytes   uint64
    Sets    uint64
    Gets    uint64
    Hits    uint64
    Misses  uint64
    Dels    uint64
    Expired uint64
    Updates uint64
}

func (s *Store) Metrics() Stats {
    return Stats{
        Keys:    s.mKeys.Load(),
        Bytes:   s.mBytes.Load(),
        Sets:    s.mSets.Load(),
        Gets:    s.mGets.Load(),
        Hits:    s.mHits.Load(),
        Misses:  s.mMisses.Load(),
        Dels:    s.mDels.Load(),
        Expired: s.mExpired.Load(),
        Updates: s.mUpdates.Load(),
    }
}

// ---- expiry queue ----

type expItem struct {
    when int64
    key  string
}

type expHeap []expItem

func (h expHeap) Len() int           { return len(h) }
func (h expHeap) Less(i, j int) bool { return h[i].when < h[j].when }
func (h expHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expHeap) Push(x any)        { *h = append(*h, x.(expItem)) }
func (h *expHeap) Pop() any          { old := *h; n := len(old); it := old[n-1]; *h = old[:n-1]; return it }

type expQueue struct {
    mu sync.Mutex
    h  expHeap
}

func (s *Store) enqueueExpire(key string, when int64) {
    s.expq.mu.Lock()
    heap.Push(&s.expq.h, expItem{when: when, key: key})
    s.expq.mu.Unlock()
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

// expirer removes keys whose deadline passed. Stale heap items (a key
// re-set with another TTL) are ignored when their entry is not expired.
func (s *Store) expirer() {
    defer s.wg.Done()
    for {
        s.expq.mu.Lock()
        var wait time.Duration = -1
        var due []string
        now := s.nowFn().UnixNano()
        for s.expq.h.Len() > 0 {
            it := s.expq.h[0]
            if it.when > now {
                wait = time.Duration(it.when - now)
                break
            }
            heap.Pop(&s.expq.h)
            due = append(due, it.key)
        }
        s.expq.mu.Unlock()

        for _, k := range due { s.expireKey(k) }

        var t *time.Timer
        var timer <-chan time.Time
        if wait >= 0 {
            t = time.NewTimer(wait)
            timer = t.C
        }
        select {
        case <-s.closeCh:
            if t != nil { t.Stop() }
            return
        case <-s.wake:
        case <-timer:
        }
        if t != nil { t.Stop() }
    }
}
