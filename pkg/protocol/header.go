package protocol

import (
    "encoding/binary"
    "errors"
)

// Fixed header layout (56 bytes) for fast parsing over any channel.
// All integer fields are little-endian.
//
//  0  ..1   Magic   'T''P' (0x5054)
//  2        Version u8
//  3        Type    u8
//  4  ..7   Flags   u32
//  8        Format  u8
//  9        Reserved u8
//  10 ..13  PayloadLen u32
//  14 ..17  TypeID u32
//  18 ..25  Seq    u64
//  26 ..33  Timestamp i64 (unix ns)
//  34 ..49  ConnID [16]byte
//  50 ..51  FragTotal u16
//  52 ..53  FragIndex u16
//  54 ..55  Reserved2 u16
const (
    HeaderSize = 56
    magicWord  = uint16(0x5054) // 'T''P'
    Version    = uint8(1)
)

var (
    ErrShortHeader = errors.New("short header")
    ErrBadMagic    = errors.New("bad magic")
    ErrBadVersion  = errors.New("unsupported version")
)

// Header describes metadata for an envelope.
type Header struct {
    Version    uint8
    Type       uint8
    Flags      uint32
    Format     Format
    PayloadLen uint32
    TypeID     uint32
    Seq        uint64
    Timestamp  int64
    ConnID     [16]byte
    FragTotal  uint16
    FragIndex  uint16
}

// MarshalBinary encodes header to 56-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
    buf := make([]byte, HeaderSize)
    h.put(buf)
    return buf, nil
}

func (h *Header) put(buf []byte) {
    binary.LittleEndian.PutUint16(buf[0:2], magicWord)
    buf[2] = h.Version
    buf[3] = h.Type
    binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
    buf[8] = byte(h.Format)
    // buf[9] reserved
    binary.LittleEndian.PutUint32(buf[10:14], h.PayloadLen)
    binary.LittleEndian.PutUint32(buf[14:18], h.TypeID)
    binary.LittleEndian.PutUint64(buf[18:26], h.Seq)
    binary.LittleEndian.PutUint64(buf[26:34], uint64(h.Timestamp))
    copy(buf[34:50], h.ConnID[:])
    binary.LittleEndian.PutUint16(buf[50:52], h.FragTotal)
    binary.LittleEndian.PutUint16(buf[52:54], h.FragIndex)
    // 54..55 reserved2 stays zero
}

// UnmarshalBinary decodes header from 56-byte buffer.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < HeaderSize { return ErrShortHeader }
    if binary.LittleEndian.Uint16(buf[0:2]) != magicWord { return ErrBadMagic }
    if buf[2] != Version { return ErrBadVersion }
    h.Version = buf[2]
    h.Type = buf[3]
    h.Flags = binary.LittleEndian.Uint32(buf[4:8])
    h.Format = Format(buf[8])
    h.PayloadLen = binary.LittleEndian.Uint32(buf[10:14])
    h.TypeID = binary.LittleEndian.Uint32(buf[14:18])
    h.Seq = binary.LittleEndian.Uint64(buf[18:26])
    h.Timestamp = int64(binary.LittleEndian.Uint64(buf[26:34]))
    copy(h.ConnID[:], buf[34:50])
    h.FragTotal = binary.LittleEndian.Uint16(buf[50:52])
    h.FragIndex = binary.LittleEndian.Uint16(buf[52:54])
    return nil
}
