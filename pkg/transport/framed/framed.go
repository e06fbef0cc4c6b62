// Package framed carries frames over a byte stream with a u32
// little-endian length prefix.
package framed

import (
    "bufio"
    "encoding/binary"
    "fmt"
    "io"
    "sync"
    "sync/atomic"
    "time"
)

// DefaultMaxFrame bounds a single frame.
const DefaultMaxFrame = 1 << 24

// Conn wraps an io.ReadWriteCloser to send/receive length-prefixed frames.
// One writer and one reader goroutine may use it concurrently.
type Conn struct {
    mu       sync.Mutex
    c        io.ReadWriteCloser
    br       *bufio.Reader
    bw       *bufio.Writer
    max      int
    lastSeen atomic.Int64
}

// New wraps rw; max <= 0 selects DefaultMaxFrame.
func New(rw io.ReadWriteCloser, max int) *Conn {
    if max <= 0 { max = DefaultMaxFrame }
    return &Conn{c: rw, br: bufio.NewReader(rw), bw: bufio.NewWriter(rw), max: max}
}

// SendBytes writes one frame.
func (c *Conn) SendBytes(b []byte) error {
    if len(b) > c.max { return fmt.Errorf("framed: frame of %d bytes exceeds %d", len(b), c.max) }
    c.mu.Lock(); defer c.mu.Unlock()
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := c.bw.Write(lenbuf[:]); err != nil { return err }
    if _, err := c.bw.Write(b); err != nil { return err }
    if err := c.bw.Flush(); err != nil { return err }
    c.lastSeen.Store(time.Now().UnixNano())
    return nil
}

// RecvBytes reads the next frame.
func (c *Conn) RecvBytes() ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(c.br, lenbuf[:]); err != nil { return nil, err }
    n := int(binary.LittleEndian.Uint32(lenbuf[:]))
    if n > c.max { return nil, fmt.Errorf("framed: invalid frame size %d", n) }
    buf := make([]byte, n)
    if _, err := io.ReadFull(c.br, buf); err != nil { return nil, err }
    c.lastSeen.Store(time.Now().UnixNano())
    return buf, nil
}

// LastSeen is the time of the last frame sent or received.
func (c *Conn) LastSeen() time.Time {
    ns := c.lastSeen.Load()
    if ns == 0 { return time.Time{} }
    return time.Unix(0, ns)
}

func (c *Conn) Close() error { return c.c.Close() }
