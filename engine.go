package clht

import (
	"fmt"
	"math"
	"math/bits"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/clht/internal/opt"
)

// hashTable is the engine behind Table for one key storage strategy, with
// P the bucket padding of handle type H. The bucket array never grows;
// chains get longer instead.
type hashTable[H, P any] struct {
	buckets   unsafeSlice[bucket[H, P]]
	mask      int
	size      unsafeSlice[counterStripe]
	sizeMask  int
	hash      func(key []byte) uint64
	keys      keyStore[H]
	maxKeyLen int
	retries   int
	storage   StorageKind
	hashName  string
}

func newHashTable[H, P any](
	keys keyStore[H],
	storage StorageKind,
	tableLen int,
	cfg *Config,
) *hashTable[H, P] {
	sizeLen := calcSizeLen(tableLen, runtime.GOMAXPROCS(0))
	hashName := cfg.hashKind.String()
	if cfg.keyHash != nil {
		hashName = "custom"
	}
	return &hashTable[H, P]{
		buckets:   makeUnsafeSlice(makeAlignedSlice[bucket[H, P]](tableLen)),
		mask:      tableLen - 1,
		size:      makeUnsafeSlice(make([]counterStripe, sizeLen)),
		sizeMask:  sizeLen - 1,
		hash:      cfg.hasher(),
		keys:      keys,
		maxKeyLen: keys.maxKeyLen(),
		retries:   cfg.lockRetries,
		storage:   storage,
		hashName:  hashName,
	}
}

// AddSize atomically adds delta to the size counter for the given bucket index.
//
//go:nosplit
func (t *hashTable[H, P]) AddSize(idx, delta int) {
	atomic.AddUintptr(&t.size.At(t.sizeMask&idx).c, uintptr(delta))
}

// SumSize calculates the total number of entries in the table
// by summing all counter-stripes.
//
//go:nosplit
func (t *hashTable[H, P]) SumSize() int {
	var sum uintptr
	for i := 0; i <= t.sizeMask; i++ {
		sum += loadInt(&t.size.At(i).c)
	}
	return int(sum)
}

// get looks key up without taking any lock.
//
// Readers may overlap a writer of the same chain. They never observe a tag
// before the slot it guards is filled, and a bucket's overflow counter is
// raised before a key behind it becomes visible, so stopping at a zero
// counter can only miss keys whose insert has not completed.
func (t *hashTable[H, P]) get(key []byte) (uintptr, bool) {
	if len(key) > t.maxKeyLen {
		return 0, false
	}
	hash := t.hash(key)
	tag := tagOf(hash)
	n := uint32(len(key))
	for b := t.buckets.At(t.mask & int(hash)); b != nil; b = (*bucket[H, P])(loadPtr(&b.next)) {
		meta := loadInt(&b.meta)
		for marked := matchTag(meta, tag); marked != 0; marked &= marked - 1 {
			j := firstMarkedByteIndex(marked)
			if loadInt(&b.hashes[j]) == hash &&
				loadInt(&b.lens[j]) == n &&
				t.keys.equal(t.keys.load(&b.keys[j]), n, key) {
				return loadInt(&b.values[j]), true
			}
		}
		if loadInt(&b.overflow) == 0 {
			break
		}
	}
	return 0, false
}

// insert stores value under key, overwriting the value of an existing key.
//
// The whole chain is scanned once under the home bucket lock: a matching key
// is updated in place, otherwise the first free slot seen is used, and a new
// bucket is appended when there is none. Key bytes are stored before any
// slot is claimed, so a storage failure leaves the table unchanged.
func (t *hashTable[H, P]) insert(key []byte, value uintptr) error {
	if len(key) > t.maxKeyLen {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrKeyTooLong, len(key), t.maxKeyLen)
	}
	hash := t.hash(key)
	tag := tagOf(hash)
	n := uint32(len(key))
	idx := t.mask & int(hash)
	root := t.buckets.At(idx)

	if !root.Lock(t.retries) {
		return ErrLockTimeout
	}

	var (
		emptyB     *bucket[H, P]
		emptyIdx   int
		emptyMeta  uint64
		emptyDepth int
		lastB      *bucket[H, P]
		depth      int
	)
	for b := root; b != nil; b = (*bucket[H, P])(b.next) {
		meta := loadIntFast(&b.meta)
		for marked := matchTag(meta, tag); marked != 0; marked &= marked - 1 {
			j := firstMarkedByteIndex(marked)
			if loadIntFast(&b.hashes[j]) == hash &&
				loadIntFast(&b.lens[j]) == n &&
				t.keys.equal(b.keys[j], n, key) {
				storeInt(&b.values[j], value)
				t.unlock(root, idx)
				return nil
			}
		}
		if emptyB == nil {
			if empty := matchEmpty(meta); empty != 0 {
				emptyB = b
				emptyIdx = firstMarkedByteIndex(empty)
				emptyMeta = meta
				emptyDepth = depth
			}
		}
		lastB = b
		depth++
	}

	h, err := t.keys.store(key)
	if err != nil {
		root.Unlock()
		return err
	}

	if emptyB != nil {
		emptyB.setSlot(t.keys, emptyIdx, hash, n, h, value)
		root.addOverflow(emptyDepth, 1)
		// root meta still carries the lock bit, unlock clears it
		storeInt(&emptyB.meta, setByte(emptyMeta, tag, emptyIdx))
	} else {
		// The new bucket is private until linked.
		nb := newBucket[H, P]()
		storeIntFast(&nb.hashes[0], hash)
		storeIntFast(&nb.values[0], value)
		storeIntFast(&nb.lens[0], n)
		nb.keys[0] = h
		storeIntFast(&nb.meta, setByte(metaEmpty, tag, 0))
		root.addOverflow(depth, 1)
		storePtr(&lastB.next, unsafe.Pointer(nb))
	}
	t.AddSize(idx, 1)
	t.unlock(root, idx)
	return nil
}

// remove deletes key. The key bytes are not reclaimed until Close.
func (t *hashTable[H, P]) remove(key []byte) (bool, error) {
	if len(key) > t.maxKeyLen {
		return false, nil
	}
	hash := t.hash(key)
	tag := tagOf(hash)
	n := uint32(len(key))
	idx := t.mask & int(hash)
	root := t.buckets.At(idx)

	if !root.Lock(t.retries) {
		return false, ErrLockTimeout
	}

	depth := 0
	for b := root; b != nil; b = (*bucket[H, P])(b.next) {
		meta := loadIntFast(&b.meta)
		for marked := matchTag(meta, tag); marked != 0; marked &= marked - 1 {
			j := firstMarkedByteIndex(marked)
			if loadIntFast(&b.hashes[j]) == hash &&
				loadIntFast(&b.lens[j]) == n &&
				t.keys.equal(b.keys[j], n, key) {
				storeInt(&b.meta, setByte(meta, tagEmpty, j))
				b.clearSlot(t.keys, j)
				root.addOverflow(depth, -1)
				t.AddSize(idx, -1)
				t.unlock(root, idx)
				return true, nil
			}
		}
		depth++
	}
	root.Unlock()
	return false, nil
}

// unlock releases the home bucket lock, verifying the chain first in debug
// builds.
func (t *hashTable[H, P]) unlock(root *bucket[H, P], idx int) {
	if opt.Debug_ {
		if err := t.checkChain(idx); err != nil {
			root.Unlock()
			panic(err)
		}
	}
	root.Unlock()
}

// rangeKeys iterates over all keys without locking. The iteration is weakly
// consistent: a key inserted or removed concurrently may or may not be seen.
func (t *hashTable[H, P]) rangeKeys(yield func(key []byte, value uintptr) bool) {
	for i := 0; i <= t.mask; i++ {
		for b := t.buckets.At(i); b != nil; b = (*bucket[H, P])(loadPtr(&b.next)) {
			meta := loadInt(&b.meta)
			for marked := matchFull(meta); marked != 0; marked &= marked - 1 {
				j := firstMarkedByteIndex(marked)
				n := loadInt(&b.lens[j])
				key := t.keys.bytes(t.keys.load(&b.keys[j]), n)
				if key == nil && n != 0 {
					continue
				}
				if !yield(key, loadInt(&b.values[j])) {
					return
				}
			}
		}
	}
}

// checkChain verifies the chain of home bucket idx. The caller holds the
// home bucket lock or no writer is active.
//
// For every occupied slot the stored key must be readable, hash to the
// stored hash and tag, and belong to this chain. Every overflow counter
// must equal the number of keys behind its bucket.
func (t *hashTable[H, P]) checkChain(idx int) error {
	var counts []int
	var chain []*bucket[H, P]
	for b := t.buckets.At(idx); b != nil; b = (*bucket[H, P])(loadPtr(&b.next)) {
		meta := loadInt(&b.meta)
		live := 0
		for j := 0; j < slotsPerBucket; j++ {
			tag := getByte(meta, j)
			if tag == tagEmpty {
				continue
			}
			if tag&slotMask == 0 {
				return fmt.Errorf("clht: bucket %d/%d slot %d: bad tag %#x", idx, len(chain), j, tag)
			}
			n := loadInt(&b.lens[j])
			key := t.keys.bytes(t.keys.load(&b.keys[j]), n)
			if key == nil && n != 0 {
				return fmt.Errorf("clht: bucket %d/%d slot %d: invalid key handle", idx, len(chain), j)
			}
			hash := loadInt(&b.hashes[j])
			if h := t.hash(key); h != hash {
				return fmt.Errorf("clht: bucket %d/%d slot %d: hash %#x, stored %#x", idx, len(chain), j, h, hash)
			}
			if tagOf(hash) != tag {
				return fmt.Errorf("clht: bucket %d/%d slot %d: tag %#x, want %#x", idx, len(chain), j, tag, tagOf(hash))
			}
			if t.mask&int(hash) != idx {
				return fmt.Errorf("clht: bucket %d/%d slot %d: key belongs to bucket %d", idx, len(chain), j, t.mask&int(hash))
			}
			live++
		}
		counts = append(counts, live)
		chain = append(chain, b)
	}
	behind := 0
	for i := len(chain) - 1; i >= 0; i-- {
		if got := int(loadInt(&chain[i].overflow)); got != behind {
			return fmt.Errorf("clht: bucket %d/%d: overflow %d, want %d", idx, i, got, behind)
		}
		behind += counts[i]
	}
	return nil
}

// checkInvariants verifies every chain and the size counter. It takes each
// home bucket lock in turn, so it must not run while the caller holds one.
func (t *hashTable[H, P]) checkInvariants() error {
	total := 0
	for i := 0; i <= t.mask; i++ {
		root := t.buckets.At(i)
		root.Lock(0)
		err := t.checkChain(i)
		for b := root; b != nil; b = (*bucket[H, P])(b.next) {
			total += bits.OnesCount64(matchFull(loadIntFast(&b.meta)))
		}
		root.Unlock()
		if err != nil {
			return err
		}
	}
	if size := t.SumSize(); size != total {
		return fmt.Errorf("clht: size counter %d, %d keys stored", size, total)
	}
	return nil
}

// stats returns statistics for the table. Just like other table
// methods, this one is thread-safe. Yet it's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (t *hashTable[H, P]) stats() Stats {
	stats := Stats{
		HomeBuckets: t.mask + 1,
		Counter:     t.SumSize(),
		CounterLen:  t.sizeMask + 1,
		MinEntries:  math.MaxInt,
		BucketSize:  int(unsafe.Sizeof(bucket[H, P]{})),
		CacheLine:   int(cacheLineSize),
		Storage:     t.storage,
		Hasher:      t.hashName,
		Keys:        t.keys.stats(),
	}
	for i := 0; i <= t.mask; i++ {
		entries, links := 0, 0
		for b := t.buckets.At(i); b != nil; b = (*bucket[H, P])(loadPtr(&b.next)) {
			stats.TotalBuckets++
			stats.Capacity += slotsPerBucket
			links++
			live := bits.OnesCount64(matchFull(loadInt(&b.meta)))
			entries += live
			if live == 0 {
				stats.EmptyBuckets++
			}
		}
		stats.Size += entries
		stats.MinEntries = min(stats.MinEntries, entries)
		stats.MaxEntries = max(stats.MaxEntries, entries)
		stats.MaxChainLen = max(stats.MaxChainLen, links)
	}
	stats.OverflowBuckets = stats.TotalBuckets - stats.HomeBuckets
	return stats
}

func (t *hashTable[H, P]) close() {
	t.keys.reset()
}
