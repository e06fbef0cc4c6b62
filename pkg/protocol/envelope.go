package protocol

import (
    "fmt"
    "io"
    "sync"
    "time"

    "github.com/google/uuid"
)

// MaxPayload bounds a single envelope payload, matching the stream
// framing limit of the transports.
const MaxPayload = 1 << 24

// Envelope is a header + payload wrapper for a single channel transfer.
type Envelope struct {
    Header  Header
    Payload []byte
}

// NewConnID generates a random 16-byte connection id.
func NewConnID() [16]byte { return [16]byte(uuid.New()) }

// ConnIDString renders a connection id in uuid form.
func ConnIDString(id [16]byte) string { return uuid.UUID(id).String() }

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint32) bool { return (e.Header.Flags & flag) != 0 }

// SetFlag sets/unsets a flag.
func (e *Envelope) SetFlag(flag uint32, on bool) {
    if on {
        e.Header.Flags |= flag
    } else {
        e.Header.Flags &^= flag
    }
}

// WriteTo writes header + payload to w.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
    e.Header.PayloadLen = uint32(len(e.Payload))
    hb, err := e.Header.MarshalBinary()
    if err != nil { return 0, err }
    n1, err := w.Write(hb)
    if err != nil { return int64(n1), err }
    n2, err := w.Write(e.Payload)
    return int64(n1 + n2), err
}

// ReadFrom reads header + payload from r.
func (e *Envelope) ReadFrom(r io.Reader) (int64, error) {
    hb := make([]byte, HeaderSize)
    if _, err := io.ReadFull(r, hb); err != nil { return 0, err }
    if err := e.Header.UnmarshalBinary(hb); err != nil { return 0, err }
    if e.Header.PayloadLen > 0 {
        if e.Header.PayloadLen > MaxPayload {
            return 0, fmt.Errorf("payload too large: %d", e.Header.PayloadLen)
        }
        e.Payload = make([]byte, int(e.Header.PayloadLen))
        if _, err := io.ReadFull(r, e.Payload); err != nil { return 0, err }
    } else {
        e.Payload = nil
    }
    return int64(HeaderSize + int(e.Header.PayloadLen)), nil
}

// EncodeFrame returns header+payload as a single byte slice.
func (e *Envelope) EncodeFrame() ([]byte, error) {
    if len(e.Payload) > MaxPayload { return nil, fmt.Errorf("payload too large: %d", len(e.Payload)) }
    e.Header.PayloadLen = uint32(len(e.Payload))
    out := make([]byte, HeaderSize+len(e.Payload))
    e.Header.put(out)
    copy(out[HeaderSize:], e.Payload)
    return out, nil
}

// DecodeFrame parses a single frame from buf.
func (e *Envelope) DecodeFrame(buf []byte) error {
    if len(buf) < HeaderSize { return io.ErrUnexpectedEOF }
    if err := e.Header.UnmarshalBinary(buf[:HeaderSize]); err != nil { return err }
    need := int(e.Header.PayloadLen)
    if need > MaxPayload { return fmt.Errorf("payload too large: %d", need) }
    if HeaderSize+need > len(buf) { return io.ErrUnexpectedEOF }
    e.Payload = append(e.Payload[:0], buf[HeaderSize:HeaderSize+need]...)
    return nil
}

// Fragments splits the payload into chunks and yields envelopes.
func (e *Envelope) Fragments(chunk int) ([]Envelope, error) {
    if chunk <= 0 { return nil, fmt.Errorf("invalid chunk size") }
    data := e.Payload
    total := (len(data) + chunk - 1) / chunk
    if total <= 1 { return []Envelope{*e}, nil }
    if total > 0xffff { return nil, fmt.Errorf("payload needs %d fragments", total) }
    out := make([]Envelope, 0, total)
    for i := 0; i < total; i++ {
        start := i * chunk
        end := start + chunk
        if end > len(data) { end = len(data) }
        ne := Envelope{Header: e.Header}
        ne.Payload = append([]byte(nil), data[start:end]...)
        ne.Header.FragIndex = uint16(i)
        ne.Header.FragTotal = uint16(total)
        ne.Header.Flags |= FlagFragment
        if i == total-1 { ne.Header.Flags |= FlagLastFrag }
        out = append(out, ne)
    }
    return out, nil
}

// Reassemble attempts to merge fragments into a single payload.
// The caller is responsible for ordering by FragIndex.
func Reassemble(frags []Envelope) (Envelope, error) {
    if len(frags) == 0 { return Envelope{}, fmt.Errorf("no fragments") }
    base := frags[0]
    var totalLen int
    for _, f := range frags { totalLen += len(f.Payload) }
    buf := make([]byte, 0, totalLen)
    for _, f := range frags { buf = append(buf, f.Payload...) }
    base.Payload = buf
    base.Header.Flags &^= (FlagFragment | FlagLastFrag)
    base.Header.FragIndex, base.Header.FragTotal = 0, 0
    base.Header.PayloadLen = uint32(len(buf))
    return base, nil
}

type fragKey struct {
    conn [16]byte
    seq  uint64
}

type fragSet struct {
    parts   []Envelope
    have    int
    size    int
    started time.Time
}

// Reassembler collects fragments arriving in any order, keyed by
// connection id and sequence number. Incomplete sets older than the
// timeout are discarded by Add.
type Reassembler struct {
    mu      sync.Mutex
    sets    map[fragKey]*fragSet
    timeout time.Duration
    now     func() time.Time
}

func NewReassembler(timeout time.Duration) *Reassembler {
    if timeout <= 0 { timeout = 5 * time.Second }
    return &Reassembler{sets: make(map[fragKey]*fragSet), timeout: timeout, now: time.Now}
}

// Add stores e and returns the merged envelope once every fragment of its
// set has arrived. Non-fragment envelopes are returned as-is.
func (r *Reassembler) Add(e Envelope) (Envelope, bool, error) {
    if !e.HasFlag(FlagFragment) { return e, true, nil }
    total := int(e.Header.FragTotal)
    idx := int(e.Header.FragIndex)
    if total == 0 || idx >= total { return Envelope{}, false, fmt.Errorf("bad fragment %d/%d", idx, total) }
    r.mu.Lock()
    defer r.mu.Unlock()
    now := r.now()
    r.expireLocked(now)
    k := fragKey{conn: e.Header.ConnID, seq: e.Header.Seq}
    fs := r.sets[k]
    if fs == nil {
        fs = &fragSet{parts: make([]Envelope, total), started: now}
        r.sets[k] = fs
    }
    if len(fs.parts) != total { return Envelope{}, false, fmt.Errorf("fragment total changed: %d != %d", total, len(fs.parts)) }
    if !fs.parts[idx].HasFlag(FlagFragment) {
        fs.parts[idx] = e
        fs.have++
        fs.size += len(e.Payload)
        if fs.size > MaxPayload {
            delete(r.sets, k)
            return Envelope{}, false, fmt.Errorf("reassembled payload too large")
        }
    }
    if fs.have < total { return Envelope{}, false, nil }
    delete(r.sets, k)
    out, err := Reassemble(fs.parts)
    return out, err == nil, err
}

// Pending returns the number of incomplete sets.
func (r *Reassembler) Pending() int {
    r.mu.Lock()
    defer r.mu.Unlock()
    return len(r.sets)
}

func (r *Reassembler) expireLocked(now time.Time) {
    for k, fs := range r.sets {
        if now.Sub(fs.started) > r.timeout { delete(r.sets, k) }
    }
}
