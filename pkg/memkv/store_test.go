package memkv

import (
    "testing"
    "time"
)

func TestSetGetCopies(t *testing.T) {
    s := New(Options{})
    defer s.Close()

    buf := []byte("abc")
    if !s.Set("k1", buf, 0) { t.Fatalf("Set refused") }
    buf[0] = 'X'
    v, ok := s.Get("k1")
    if !ok || string(v) != "abc" { t.Fatalf("Get mismatch: ok=%v v=%q", ok, v) }
    // modifying the returned copy must not change the store
    v[0] = 'Y'
    v2, _ := s.Get("k1")
    if string(v2) != "abc" { t.Fatalf("store changed through returned slice: %q", v2) }

    if !s.Set("empty", nil, 0) { t.Fatalf("Set of nil refused") }
    if v, ok := s.Get("empty"); !ok || len(v) != 0 { t.Fatalf("empty value: %v %v", v, ok) }
}

func TestExpireTTL(t *testing.T) {
    s := New(Options{})
    defer s.Close()

    s.Set("k3", []byte("v"), 50*time.Millisecond)
    if _, ok := s.Get("k3"); !ok { t.Fatalf("expected key present before TTL") }
    if d, ok := s.TTL("k3"); !ok || d <= 0 { t.Fatalf("TTL should be >0 and ok, got %v %v", d, ok) }
    time.Sleep(120 * time.Millisecond)
    if _, ok := s.Get("k3"); ok { t.Fatalf("expected key expired") }
    if _, ok := s.TTL("k3"); ok { t.Fatalf("expected TTL to report missing after expiry") }
    if st := s.Metrics(); st.Expired == 0 || st.Keys != 0 { t.Fatalf("metrics after expiry: %+v", st) }
}

func TestExpireUpdateTTL(t *testing.T) {
    s := New(Options{})
    defer s.Close()

    s.Set("k4", []byte("v"), 0)
    if d, ok := s.TTL("k4"); !ok || d != 0 { t.Fatalf("no TTL expected, got %v %v", d, ok) }
    if ok := s.Expire("k4", 30*time.Millisecond); !ok { t.Fatalf("Expire returned false") }
    deadline := time.Now().Add(2 * time.Second)
    for s.Exists("k4") {
        if time.Now().After(deadline) { t.Fatalf("key never expired") }
        time.Sleep(10 * time.Millisecond)
    }
    if s.Expire("missing", time.Second) { t.Fatalf("Expire on missing key") }
}

func TestKeysAndPrefixDelete(t *testing.T) {
    s := New(Options{Shards: 4})
    defer s.Close()
    for _, k := range []string{"prop:a:x", "prop:a:y", "prop:b:x", "reg:a"} { s.Set(k, []byte(k), 0) }
    got := s.Keys("prop:a:")
    if len(got) != 2 || got[0] != "prop:a:x" || got[1] != "prop:a:y" { t.Fatalf("Keys = %v", got) }
    if n := s.DeletePrefix("prop:"); n != 3 { t.Fatalf("DeletePrefix = %d", n) }
    if all := s.Keys(""); len(all) != 1 || all[0] != "reg:a" { t.Fatalf("remaining keys %v", all) }
}

func TestUpdateAndMetrics(t *testing.T) {
    s := New(Options{})
    defer s.Close()

    s.Set("a", []byte("123"), 0)
    s.Set("b", []byte("5"), 0)
    s.Update("a", func(old []byte) []byte { return append(append([]byte{}, old...), "++"...) })
    if s.Update("missing", func(old []byte) []byte { return old }) { t.Fatalf("Update on missing key") }
    s.Get("a")
    s.Get("missing")
    s.Delete("b")

    st := s.Metrics()
    if st.Keys != 1 || st.Bytes != 5 { t.Fatalf("Keys=1 Bytes=5 expected, got %d %d", st.Keys, st.Bytes) }
    if st.Sets != 2 || st.Updates != 1 { t.Fatalf("Sets=2 Updates=1 expected, got %d %d", st.Sets, st.Updates) }
    if st.Gets != 2 || st.Hits != 1 || st.Misses != 1 { t.Fatalf("Gets/Hits/Misses mismatch: %d/%d/%d", st.Gets, st.Hits, st.Misses) }
    if st.Dels != 1 { t.Fatalf("Dels=1 expected, got %d", st.Dels) }
}

func TestMaxBytes(t *testing.T) {
    s := New(Options{MaxBytes: 8})
    defer s.Close()
    if !s.Set("a", make([]byte, 6), 0) { t.Fatalf("first set refused") }
    if s.Set("b", make([]byte, 3), 0) { t.Fatalf("set past the budget accepted") }
    // shrinking an existing value frees room
    if !s.Set("a", make([]byte, 2), 0) { t.Fatalf("shrink refused") }
    if !s.Set("b", make([]byte, 6), 0) { t.Fatalf("set within budget refused") }
    if s.Update("a", func([]byte) []byte { return make([]byte, 3) }) { t.Fatalf("update past the budget accepted") }
    if v, _ := s.Get("a"); len(v) != 2 { t.Fatalf("refused update changed the value") }
    if st := s.Metrics(); st.Bytes != 8 { t.Fatalf("Bytes = %d", st.Bytes) }
}
