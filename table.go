package clht

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"unsafe"
)

// Table is a concurrent hash table mapping byte-string keys to uintptr
// values.
//
// Core properties:
//   - Lock-free lookups; inserts and removes lock one home bucket
//   - Three slots per bucket, filtered by one-byte tags compared in a
//     single machine word
//   - Buckets padded to whole cache lines and allocated line aligned
//   - Fixed number of home buckets; collisions extend overflow chains
//   - Key bytes kept by a pluggable strategy (see StorageKind)
//
// Usage:
//
//	t := NewTable(1<<16, WithStorage(StorageHybrid))
//	defer t.Close()
//	_ = t.Insert([]byte("alpha"), 1)
//	v, ok := t.Get([]byte("alpha"))
//
// Notes:
//   - Table must not be copied after first use.
//   - Removed keys leave their bytes in the key storage until Close.
type Table struct {
	_    noCopy
	impl atomic.Pointer[tableRef]
}

// tableImpl is implemented by hashTable for every key handle type.
type tableImpl interface {
	insert(key []byte, value uintptr) error
	get(key []byte) (uintptr, bool)
	remove(key []byte) (bool, error)
	SumSize() int
	rangeKeys(yield func(key []byte, value uintptr) bool)
	stats() Stats
	checkInvariants() error
	close()
}

type tableRef struct {
	tableImpl
}

// NewTable creates a table sized for capacity keys: the number of home
// buckets is the next power of two of capacity/3. The table never resizes;
// more keys than that are held in overflow chains.
//
// Parameters:
//   - capacity: expected number of keys
//   - options: configuration options (WithStorage, WithHasher, etc.)
func NewTable(capacity int, options ...func(*Config)) *Table {
	cfg := defaultConfig()
	for _, o := range options {
		o(&cfg)
	}
	tableLen := calcTableLen(capacity)

	var impl tableImpl
	switch cfg.storage {
	case StorageInline:
		impl = newHashTable[inlineKey, inlinePad](inlineStore{}, cfg.storage, tableLen, &cfg)
	case StoragePooled:
		impl = newHashTable[uint32, pooledPad](newPooledStore(cfg.poolSize, cfg.poolLimit), cfg.storage, tableLen, &cfg)
	case StorageHybrid:
		impl = newHashTable[hybridKey, hybridPad](newHybridStore(cfg.arenaLimit), cfg.storage, tableLen, &cfg)
	default:
		impl = newHashTable[unsafe.Pointer, arenaPad](newArenaStore(cfg.arenaLimit), StorageArena, tableLen, &cfg)
	}

	t := &Table{}
	t.impl.Store(&tableRef{impl})
	return t
}

// Insert stores value under key, replacing the value of an existing key.
// The key bytes are copied; the caller may reuse key afterwards.
//
// Errors: ErrKeyTooLong, ErrAllocationFailure, ErrLockTimeout, ErrClosed.
// On error the table is unchanged.
func (t *Table) Insert(key []byte, value uintptr) error {
	impl := t.impl.Load()
	if impl == nil {
		return ErrClosed
	}
	return impl.insert(key, value)
}

// Get returns the value stored under key and whether it was found.
func (t *Table) Get(key []byte) (value uintptr, ok bool) {
	impl := t.impl.Load()
	if impl == nil {
		return 0, false
	}
	return impl.get(key)
}

// Lookup returns the value stored under key, or NotFound. Use Get when
// NotFound is a legitimate stored value.
func (t *Table) Lookup(key []byte) uintptr {
	if v, ok := t.Get(key); ok {
		return v
	}
	return NotFound
}

// Remove deletes key and reports whether it was present.
func (t *Table) Remove(key []byte) (bool, error) {
	impl := t.impl.Load()
	if impl == nil {
		return false, ErrClosed
	}
	return impl.remove(key)
}

// InsertString is Insert for a string key, without copying it first.
func (t *Table) InsertString(key string, value uintptr) error {
	return t.Insert(stringBytes(key), value)
}

// GetString is Get for a string key.
func (t *Table) GetString(key string) (uintptr, bool) {
	return t.Get(stringBytes(key))
}

// LookupString is Lookup for a string key.
func (t *Table) LookupString(key string) uintptr {
	return t.Lookup(stringBytes(key))
}

// RemoveString is Remove for a string key.
func (t *Table) RemoveString(key string) (bool, error) {
	return t.Remove(stringBytes(key))
}

// Size returns the number of keys in the table.
// This is an O(1) operation.
func (t *Table) Size() int {
	impl := t.impl.Load()
	if impl == nil {
		return 0
	}
	return impl.SumSize()
}

// Range calls yield for every key until it returns false. The key slice may
// alias table memory and must not be modified or retained.
//
// The iteration is weakly consistent: keys inserted or removed during Range
// may or may not be visited.
func (t *Table) Range(yield func(key []byte, value uintptr) bool) {
	impl := t.impl.Load()
	if impl == nil {
		return
	}
	impl.rangeKeys(yield)
}

// All returns an iterator over the table for range-over-func.
func (t *Table) All() func(yield func(key []byte, value uintptr) bool) {
	return t.Range
}

// Keys returns copies of all keys, shortest first, equal lengths in byte
// order.
func (t *Table) Keys() [][]byte {
	var keys [][]byte
	t.Range(func(key []byte, _ uintptr) bool {
		keys = append(keys, bytes.Clone(key))
		return true
	})
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Stats returns diagnostic statistics. It is an O(N) operation.
func (t *Table) Stats() Stats {
	impl := t.impl.Load()
	if impl == nil {
		return Stats{}
	}
	return impl.stats()
}

// Close releases the buckets and the key storage. Operations already
// running finish against the old table; later writes return ErrClosed and
// later lookups find nothing. Close is idempotent.
func (t *Table) Close() {
	if impl := t.impl.Swap(nil); impl != nil {
		impl.close()
	}
}

// Closed reports whether Close has been called.
func (t *Table) Closed() bool {
	return t.impl.Load() == nil
}

// checkInvariants verifies the bucket structure of the whole table.
func (t *Table) checkInvariants() error {
	impl := t.impl.Load()
	if impl == nil {
		return ErrClosed
	}
	return impl.checkInvariants()
}

func stringBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// ============================================================================
// Statistics
// ============================================================================

// Stats is Table statistics.
//
// Notes:
//   - Table statistics are intended to be used for diagnostic
//     purposes, not for production code.
type Stats struct {
	// HomeBuckets is the number of home buckets, fixed at creation.
	HomeBuckets int
	// TotalBuckets is the number of home and overflow buckets.
	TotalBuckets int
	// OverflowBuckets is the number of buckets linked behind home buckets.
	OverflowBuckets int
	// EmptyBuckets is the number of buckets that hold no keys.
	EmptyBuckets int
	// Capacity is the number of slots of all buckets.
	Capacity int
	// Size is the exact number of keys found by walking the buckets.
	Size int
	// Counter is the number of keys according to the striped counter. Under
	// concurrent modification it may differ from Size.
	Counter int
	// CounterLen is the number of counter stripes.
	CounterLen int
	// MinEntries is the minimum number of keys per chain.
	MinEntries int
	// MaxEntries is the maximum number of keys per chain.
	MaxEntries int
	// MaxChainLen is the longest chain in buckets.
	MaxChainLen int
	// BucketSize is the size of one bucket in bytes.
	BucketSize int
	// CacheLine is the cache line size the table was built for.
	CacheLine int
	// Storage is the key storage strategy.
	Storage StorageKind
	// Hasher names the hash function.
	Hasher string
	// Keys describes key storage memory.
	Keys StoreStats
}

// String returns string representation of table stats.
func (s Stats) String() string {
	var sb strings.Builder
	sb.WriteString("Stats{\n")
	sb.WriteString(fmt.Sprintf("HomeBuckets:     %d\n", s.HomeBuckets))
	sb.WriteString(fmt.Sprintf("TotalBuckets:    %d\n", s.TotalBuckets))
	sb.WriteString(fmt.Sprintf("OverflowBuckets: %d\n", s.OverflowBuckets))
	sb.WriteString(fmt.Sprintf("EmptyBuckets:    %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("Capacity:        %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:            %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:         %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("CounterLen:      %d\n", s.CounterLen))
	sb.WriteString(fmt.Sprintf("MinEntries:      %d\n", s.MinEntries))
	sb.WriteString(fmt.Sprintf("MaxEntries:      %d\n", s.MaxEntries))
	sb.WriteString(fmt.Sprintf("MaxChainLen:     %d\n", s.MaxChainLen))
	sb.WriteString(fmt.Sprintf("BucketSize:      %d\n", s.BucketSize))
	sb.WriteString(fmt.Sprintf("CacheLine:       %d\n", s.CacheLine))
	sb.WriteString(fmt.Sprintf("Storage:         %s\n", s.Storage))
	sb.WriteString(fmt.Sprintf("Hasher:          %s\n", s.Hasher))
	sb.WriteString(fmt.Sprintf("KeyBytesUsed:    %d\n", s.Keys.Used))
	sb.WriteString(fmt.Sprintf("KeyBytesHeld:    %d\n", s.Keys.Reserved))
	sb.WriteString("}\n")
	return sb.String()
}
