// Package arena provides the append-only byte allocators that hold key
// bytes for a table. Records are never freed individually; all memory is
// released together by Reset.
//
// Every record has the same layout:
//
//	[uint32 length][length bytes][NUL][padding to 8 bytes]
//
// so a record handle alone is enough to recover the key.
package arena

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"unsafe"
)

const (
	// ChunkSize is the size of a regular Arena chunk.
	ChunkSize = 64 << 10
	// HeaderSize is the size of the length prefix of every record.
	HeaderSize = 4

	align = 8

	// MaxKeyLen is the longest key a record can hold. Its length must fit
	// the 32-bit header and its record size must fit an int.
	MaxKeyLen = min(math.MaxUint32-align, math.MaxInt-HeaderSize-2*align)
)

var (
	// ErrExhausted indicates that the configured byte limit is reached.
	ErrExhausted = errors.New("arena: byte limit exhausted")
	// ErrTooLarge indicates a key longer than a record can describe.
	ErrTooLarge = errors.New("arena: record too large")
)

// RecordSize returns the aligned number of bytes a key of n bytes occupies.
func RecordSize(n int) int {
	return (HeaderSize + n + 1 + align - 1) &^ (align - 1)
}

// writeRecord fills buf, which must be RecordSize(len(key)) bytes, with
// header, key and terminator.
func writeRecord(buf, key []byte) {
	binary.LittleEndian.PutUint32(buf, uint32(len(key)))
	n := copy(buf[HeaderSize:], key)
	buf[HeaderSize+n] = 0
}

// Stats describes allocator memory usage.
type Stats struct {
	// Used is the number of record bytes handed out.
	Used int64
	// Reserved is the number of bytes obtained from the Go heap.
	Reserved int64
	// Chunks is the number of chunks (Arena) or buffer generations (Pool).
	Chunks int
}

// Arena is a chunked bump allocator. Allocation takes a mutex only to
// reserve space; the copy happens outside of it. Chunks are never moved, so
// a record pointer stays valid until Reset.
type Arena struct {
	mu       sync.Mutex
	cur      []byte
	off      int
	chunks   [][]byte
	used     int64
	reserved int64
	limit    int64
}

// New returns an Arena. A positive limit caps the total record bytes.
func New(limit int) *Arena {
	return &Arena{limit: int64(max(limit, 0))}
}

// Alloc copies key into the arena and returns a pointer to its record.
func (a *Arena) Alloc(key []byte) (unsafe.Pointer, error) {
	if len(key) > MaxKeyLen {
		return nil, ErrTooLarge
	}
	need := RecordSize(len(key))

	a.mu.Lock()
	buf, err := a.reserveLocked(need)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	writeRecord(buf, key)
	return unsafe.Pointer(unsafe.SliceData(buf)), nil
}

func (a *Arena) reserveLocked(need int) ([]byte, error) {
	if a.limit > 0 && a.used+int64(need) > a.limit {
		return nil, ErrExhausted
	}
	a.used += int64(need)

	// Oversized records get a dedicated chunk and leave the current one alone.
	if need > ChunkSize {
		chunk := make([]byte, need)
		a.chunks = append(a.chunks, chunk)
		a.reserved += int64(need)
		return chunk, nil
	}
	if a.cur == nil || a.off+need > len(a.cur) {
		a.cur = make([]byte, ChunkSize)
		a.off = 0
		a.chunks = append(a.chunks, a.cur)
		a.reserved += ChunkSize
	}
	buf := a.cur[a.off : a.off+need : a.off+need]
	a.off += need
	return buf, nil
}

// Stats returns current memory usage.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Used: a.used, Reserved: a.reserved, Chunks: len(a.chunks)}
}

// Reset drops every chunk. Records handed out before remain readable for as
// long as someone references them, but the arena no longer accounts for
// them.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur, a.off, a.chunks = nil, 0, nil
	a.used, a.reserved = 0, 0
}

// Len returns the key length stored in the record at p.
func Len(p unsafe.Pointer) uint32 {
	return *(*uint32)(p)
}

// Bytes returns the n key bytes of the record at p without copying.
// It returns nil when p is nil or the record holds a key of another length.
func Bytes(p unsafe.Pointer, n uint32) []byte {
	if p == nil || Len(p) != n {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Add(p, HeaderSize)), n)
}
