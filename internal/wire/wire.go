// Package wire frames cache entries for byte providers. Entries are
// immutable once written and replaced wholesale, so a single strict format
// with magic/version validation is enough: anything that fails to decode is
// treated as corruption and self-healed by the store.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindEntry byte = 1
)

var (
	ErrCorrupt = errors.New("wire: corrupt entry")
	magic4     = [...]byte{'S', 'Y', 'N', 'C'}
)

// Entry is the persisted form of one cache entry.
type Entry struct {
	Gen      uint64 // cache generation the entry belongs to
	StoredAt int64  // unix nanoseconds
	Strategy byte   // StrategyKind tag, opaque at this layer
	Payload  []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1) | gen(u64 be) | storedAt(i64 be) |
// strategy(1) | plen(u32 be) | payload(plen)
func EncodeEntry(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 8 + 1 + 4 + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.Gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.StoredAt))
	buf.Write(u8[:])

	buf.WriteByte(e.Strategy)

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	storedAt := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	strategy := b[off]
	off++

	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen != len(b)-off { // strict: no trailing bytes
		return Entry{}, ErrCorrupt
	}

	return Entry{
		Gen:      gen,
		StoredAt: storedAt,
		Strategy: strategy,
		Payload:  b[off : off+plen],
	}, nil
}
