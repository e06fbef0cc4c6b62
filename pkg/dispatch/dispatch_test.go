package dispatch

import (
    "context"
    "testing"
    "time"
)

func item(flow string, c Class, size int) Item { return Item{Flow: flow, Class: c, Frame: make([]byte, size)} }

func TestStrictPriority(t *testing.T) {
    q := New()
    q.Enqueue(item("a", Bulk, 10))
    q.Enqueue(item("a", Realtime, 10))
    q.Enqueue(item("a", Control, 10))
    want := []Class{Control, Realtime, Bulk}
    for _, c := range want {
        it, ok := q.TryDequeue()
        if !ok || it.Class != c { t.Fatalf("got %v (%v), want %v", it.Class, ok, c) }
    }
    if _, ok := q.TryDequeue(); ok { t.Fatalf("queue should be empty") }
}

func TestFlowsShareAClass(t *testing.T) {
    q := New()
    for i := 0; i < 3; i++ {
        q.Enqueue(item("a", Realtime, 100))
        q.Enqueue(item("b", Realtime, 100))
    }
    var order []string
    for q.Len() > 0 {
        it, _ := q.TryDequeue()
        order = append(order, it.Flow)
    }
    // equal-size items alternate between flows after the first quantum
    a, b := 0, 0
    for _, f := range order {
        if f == "a" { a++ } else { b++ }
    }
    if a != 3 || b != 3 { t.Fatalf("order %v", order) }
}

func TestLargeFrameIsNotStarved(t *testing.T) {
    q := New()
    q.Enqueue(item("big", Control, 1<<20))
    it, ok := q.TryDequeue()
    if !ok || len(it.Frame) != 1<<20 { t.Fatalf("large frame not dequeued") }
}

func TestFIFOWithinFlow(t *testing.T) {
    q := New()
    for i := 0; i < 5; i++ {
        q.Enqueue(Item{Flow: "a", Class: Realtime, Frame: []byte{byte(i)}})
    }
    for i := 0; i < 5; i++ {
        it, _ := q.TryDequeue()
        if it.Frame[0] != byte(i) { t.Fatalf("item %d out of order: %d", i, it.Frame[0]) }
    }
}

func TestDequeueBlocksAndCancels(t *testing.T) {
    q := New()
    go func() {
        time.Sleep(20 * time.Millisecond)
        q.Enqueue(item("a", Bulk, 1))
    }()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if _, err := q.Dequeue(ctx); err != nil { t.Fatalf("dequeue: %v", err) }

    cctx, ccancel := context.WithCancel(context.Background())
    ccancel()
    if _, err := q.Dequeue(cctx); err == nil { t.Fatalf("expected cancellation") }
}

func TestDrop(t *testing.T) {
    q := New()
    q.Enqueue(item("a", Realtime, 1))
    q.Enqueue(item("a", Bulk, 1))
    q.Enqueue(item("b", Realtime, 1))
    if n := q.Drop("a"); n != 2 { t.Fatalf("dropped %d", n) }
    it, ok := q.TryDequeue()
    if !ok || it.Flow != "b" || q.Len() != 0 { t.Fatalf("unexpected remaining item %+v", it) }
}

func TestParseClass(t *testing.T) {
    for s, want := range map[string]Class{"control": Control, "": Realtime, "BULK": Bulk} {
        c, err := ParseClass(s)
        if err != nil || c != want { t.Fatalf("ParseClass(%q) = %v, %v", s, c, err) }
    }
    if _, err := ParseClass("urgent"); err == nil { t.Fatalf("accepted unknown class") }
}

func TestTokenBucket(t *testing.T) {
    now := time.Unix(0, 0)
    b := NewTokenBucket(10, 2)
    b.now = func() time.Time { return now }
    for i := 0; i < 2; i++ {
        if ok, _ := b.Allow(1); !ok { t.Fatalf("burst token %d refused", i) }
    }
    ok, wait := b.Allow(1)
    if ok || wait != 100*time.Millisecond { t.Fatalf("want refusal with 100ms wait, got %v %v", ok, wait) }
    now = now.Add(100 * time.Millisecond)
    if ok, _ := b.Allow(1); !ok { t.Fatalf("refill did not happen") }
}
