package clht

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/clht/internal/arena"
)

// StorageKind selects where a table keeps the bytes of its keys.
type StorageKind uint8

const (
	// StorageArena copies every key into a chunked arena and keeps a pointer
	// in the slot.
	StorageArena StorageKind = iota
	// StorageInline keeps keys of up to InlineKeyLen bytes inside the slot.
	// Longer keys are rejected with ErrKeyTooLong.
	StorageInline
	// StoragePooled copies keys into one growable buffer and keeps a 32-bit
	// offset in the slot.
	StoragePooled
	// StorageHybrid packs keys of up to 8 bytes into the slot and sends
	// longer keys to the arena.
	StorageHybrid
)

// InlineKeyLen is the longest key StorageInline accepts.
const InlineKeyLen = 16

// hybridPackLen is the longest key StorageHybrid packs into the slot.
const hybridPackLen = 8

// maxRecordKeyLen is the longest key an arena or pool record can hold.
const maxRecordKeyLen = arena.MaxKeyLen

// String returns the name of the storage kind.
func (k StorageKind) String() string {
	switch k {
	case StorageArena:
		return "arena"
	case StorageInline:
		return "inline"
	case StoragePooled:
		return "pooled"
	case StorageHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseStorageKind is the inverse of StorageKind.String.
func ParseStorageKind(s string) (StorageKind, error) {
	for k := StorageArena; k <= StorageHybrid; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("clht: unknown storage kind %q", s)
}

// StoreStats describes key storage memory.
type StoreStats struct {
	// Used is the number of bytes taken by key records.
	Used int64
	// Reserved is the number of bytes obtained from the heap.
	Reserved int64
	// Chunks is the number of arena chunks or pool generations.
	Chunks int
}

// keyStore keeps the bytes of stored keys and the per-slot handle H that
// refers to them. Handles are written under the home bucket lock with
// publish and read without it with load, so a reader may see a handle
// that belongs to a concurrent insert of the same slot; equal and bytes
// never read past the record a handle refers to.
type keyStore[H any] interface {
	// store copies key and returns its handle. On error nothing is
	// retained.
	store(key []byte) (H, error)
	load(src *H) H
	publish(dst *H, h H)
	// equal reports whether the key behind h, which is n bytes long,
	// equals key. The caller has already checked len(key) == n.
	equal(h H, n uint32, key []byte) bool
	// bytes returns the n key bytes behind h, or nil if h is not a valid
	// handle for a key of that length.
	bytes(h H, n uint32) []byte
	maxKeyLen() int
	stats() StoreStats
	reset()
}

func wrapAllocErr(err error) error {
	return fmt.Errorf("%w: %w", ErrAllocationFailure, err)
}

// ============================================================================
// External pointer
// ============================================================================

type arenaStore struct {
	a *arena.Arena
}

func newArenaStore(limit int) *arenaStore {
	return &arenaStore{a: arena.New(limit)}
}

func (s *arenaStore) store(key []byte) (unsafe.Pointer, error) {
	p, err := s.a.Alloc(key)
	if err != nil {
		return nil, wrapAllocErr(err)
	}
	return p, nil
}

func (s *arenaStore) load(src *unsafe.Pointer) unsafe.Pointer { return loadPtr(src) }

func (s *arenaStore) publish(dst *unsafe.Pointer, h unsafe.Pointer) { storePtr(dst, h) }

func (s *arenaStore) equal(h unsafe.Pointer, n uint32, key []byte) bool {
	b := arena.Bytes(h, n)
	return b != nil && equalKeys(b, key)
}

func (s *arenaStore) bytes(h unsafe.Pointer, n uint32) []byte {
	return arena.Bytes(h, n)
}

func (s *arenaStore) maxKeyLen() int { return maxRecordKeyLen }

func (s *arenaStore) stats() StoreStats {
	st := s.a.Stats()
	return StoreStats{Used: st.Used, Reserved: st.Reserved, Chunks: st.Chunks}
}

func (s *arenaStore) reset() { s.a.Reset() }

// ============================================================================
// Fixed inline
// ============================================================================

// inlineKey holds up to InlineKeyLen key bytes, little endian, zero padded.
type inlineKey struct {
	_ [0]atomic.Uint64
	w [InlineKeyLen / 8]uint64
}

func packInline(key []byte) (h inlineKey) {
	var buf [InlineKeyLen]byte
	copy(buf[:], key)
	for i := range h.w {
		h.w[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return h
}

func (h *inlineKey) unpack(n uint32) []byte {
	var buf [InlineKeyLen]byte
	for i := range h.w {
		binary.LittleEndian.PutUint64(buf[i*8:], h.w[i])
	}
	return append([]byte(nil), buf[:n]...)
}

type inlineStore struct{}

func (inlineStore) store(key []byte) (inlineKey, error) {
	if len(key) > InlineKeyLen {
		return inlineKey{}, ErrKeyTooLong
	}
	return packInline(key), nil
}

func (inlineStore) load(src *inlineKey) (h inlineKey) {
	for i := range h.w {
		h.w[i] = loadInt(&src.w[i])
	}
	return h
}

func (inlineStore) publish(dst *inlineKey, h inlineKey) {
	for i := range h.w {
		storeInt(&dst.w[i], h.w[i])
	}
}

// equal compares packed words. Both sides are zero padded and of equal
// length, so word equality is key equality.
func (inlineStore) equal(h inlineKey, n uint32, key []byte) bool {
	if n > InlineKeyLen {
		return false
	}
	return h.w == packInline(key).w
}

func (inlineStore) bytes(h inlineKey, n uint32) []byte {
	if n > InlineKeyLen {
		return nil
	}
	return h.unpack(n)
}

func (inlineStore) maxKeyLen() int    { return InlineKeyLen }
func (inlineStore) stats() StoreStats { return StoreStats{} }
func (inlineStore) reset()            {}

// ============================================================================
// Pool offset
// ============================================================================

type pooledStore struct {
	p *arena.Pool
}

func newPooledStore(size, limit int) *pooledStore {
	return &pooledStore{p: arena.NewPool(size, limit)}
}

func (s *pooledStore) store(key []byte) (uint32, error) {
	off, err := s.p.Put(key)
	if err != nil {
		return 0, wrapAllocErr(err)
	}
	return off, nil
}

func (s *pooledStore) load(src *uint32) uint32 { return loadInt(src) }

func (s *pooledStore) publish(dst *uint32, h uint32) { storeInt(dst, h) }

func (s *pooledStore) equal(h uint32, n uint32, key []byte) bool {
	b := s.p.Key(h, n)
	return b != nil && equalKeys(b, key)
}

func (s *pooledStore) bytes(h uint32, n uint32) []byte { return s.p.Key(h, n) }

func (s *pooledStore) maxKeyLen() int { return maxRecordKeyLen }

func (s *pooledStore) stats() StoreStats {
	st := s.p.Stats()
	return StoreStats{Used: st.Used, Reserved: st.Reserved, Chunks: st.Chunks}
}

func (s *pooledStore) reset() { s.p.Reset() }

// ============================================================================
// Hybrid
// ============================================================================

// hybridKey is either a key of up to hybridPackLen bytes packed into w
// (p == nil) or a pointer to an arena record.
type hybridKey struct {
	_ [0]atomic.Uint64
	w uint64
	p unsafe.Pointer
}

type hybridStore struct {
	a *arena.Arena
}

func newHybridStore(limit int) *hybridStore {
	return &hybridStore{a: arena.New(limit)}
}

func packWord(key []byte) uint64 {
	var buf [8]byte
	copy(buf[:], key)
	return binary.LittleEndian.Uint64(buf[:])
}

func (s *hybridStore) store(key []byte) (hybridKey, error) {
	if len(key) <= hybridPackLen {
		return hybridKey{w: packWord(key)}, nil
	}
	p, err := s.a.Alloc(key)
	if err != nil {
		return hybridKey{}, wrapAllocErr(err)
	}
	return hybridKey{p: p}, nil
}

func (s *hybridStore) load(src *hybridKey) hybridKey {
	return hybridKey{w: loadInt(&src.w), p: loadPtr(&src.p)}
}

func (s *hybridStore) publish(dst *hybridKey, h hybridKey) {
	storeInt(&dst.w, h.w)
	storePtr(&dst.p, h.p)
}

func (s *hybridStore) equal(h hybridKey, n uint32, key []byte) bool {
	if n <= hybridPackLen {
		return h.p == nil && h.w == packWord(key)
	}
	b := arena.Bytes(h.p, n)
	return b != nil && equalKeys(b, key)
}

func (s *hybridStore) bytes(h hybridKey, n uint32) []byte {
	if n <= hybridPackLen {
		if h.p != nil {
			return nil
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], h.w)
		return append([]byte(nil), buf[:n]...)
	}
	return arena.Bytes(h.p, n)
}

func (s *hybridStore) maxKeyLen() int { return maxRecordKeyLen }

func (s *hybridStore) stats() StoreStats {
	st := s.a.Stats()
	return StoreStats{Used: st.Used, Reserved: st.Reserved, Chunks: st.Chunks}
}

func (s *hybridStore) reset() { s.a.Reset() }
