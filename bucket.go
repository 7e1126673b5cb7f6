package clht

import (
	"sync/atomic"
	"unsafe"
)

// bucket is one link of a chain. Home buckets are allocated together when
// the table is created; overflow buckets are allocated one at a time and
// linked through next. A chain never shrinks before the table is closed.
//
// P pads the bucket to a whole number of cache lines; it is one of the
// *Pad types below, matching H. Buckets are allocated on a cache line
// boundary, so no bucket shares a line with another.
//
// Every slot field is written under the home bucket lock. Lock-free readers
// rely on the publication order of the writers: on insert the tag byte in
// meta is stored last, on remove it is cleared first.
type bucket[H, P any] struct {
	// meta: one tag byte per slot plus the lock bit, must be 64-bit aligned
	_      [0]atomic.Uint64
	meta   uint64
	hashes [slotsPerBucket]uint64
	values [slotsPerBucket]uintptr
	lens   [slotsPerBucket]uint32
	// overflow is the number of live keys in the buckets after this one.
	// A reader that finds it zero can stop walking the chain.
	overflow uint32
	next     unsafe.Pointer // *bucket[H, P]
	_        P
	keys     [slotsPerBucket]H
}

// bucketHead has the layout of the bucket fields in front of the padding.
type bucketHead struct {
	_        [0]atomic.Uint64
	meta     uint64
	hashes   [slotsPerBucket]uint64
	values   [slotsPerBucket]uintptr
	lens     [slotsPerBucket]uint32
	overflow uint32
	next     unsafe.Pointer
}

const bucketHeadSize = unsafe.Sizeof(bucketHead{})

// Bucket padding per key handle type. The padding sits in front of the keys
// rather than at the end, where a zero-sized field would grow the struct.
type (
	arenaPad  [(cacheLineSize - (bucketHeadSize+slotsPerBucket*unsafe.Sizeof(unsafe.Pointer(nil)))%cacheLineSize) % cacheLineSize]byte
	inlinePad [(cacheLineSize - (bucketHeadSize+slotsPerBucket*unsafe.Sizeof(inlineKey{}))%cacheLineSize) % cacheLineSize]byte
	pooledPad [(cacheLineSize - (bucketHeadSize+slotsPerBucket*unsafe.Sizeof(uint32(0)))%cacheLineSize) % cacheLineSize]byte
	hybridPad [(cacheLineSize - (bucketHeadSize+slotsPerBucket*unsafe.Sizeof(hybridKey{}))%cacheLineSize) % cacheLineSize]byte
)

// newBucket allocates a zeroed overflow bucket on a cache line boundary.
func newBucket[H, P any]() *bucket[H, P] {
	if b := new(bucket[H, P]); uintptr(unsafe.Pointer(b))%cacheLineSize == 0 {
		return b
	}
	return &makeAlignedSlice[bucket[H, P]](1)[0]
}

// Lock acquires the spinlock embedded in the meta word. With retries > 0 it
// gives up after that many failed attempts and returns false; otherwise it
// waits until the lock is free.
func (b *bucket[H, P]) Lock(retries int) bool {
	cur := loadInt(&b.meta)
	if atomic.CompareAndSwapUint64(&b.meta, cur&(^opLockMask), cur|opLockMask) {
		return true
	}
	return b.slowLock(retries)
}

func (b *bucket[H, P]) slowLock(retries int) bool {
	var spins int
	for attempt := 1; !b.tryLock(); attempt++ {
		if retries > 0 && attempt >= retries {
			return false
		}
		delay(&spins)
	}
	return true
}

//go:nosplit
func (b *bucket[H, P]) tryLock() bool {
	for {
		cur := loadInt(&b.meta)
		if cur&opLockMask != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(&b.meta, cur, cur|opLockMask) {
			return true
		}
	}
}

//go:nosplit
func (b *bucket[H, P]) Unlock() {
	atomic.StoreUint64(&b.meta, loadIntFast(&b.meta)&^opLockMask)
}

//go:nosplit
func (b *bucket[H, P]) UnlockWithMeta(meta uint64) {
	atomic.StoreUint64(&b.meta, meta&^opLockMask)
}

//go:nosplit
func (b *bucket[H, P]) locked() bool {
	return loadInt(&b.meta)&opLockMask != 0
}

// setSlot fills slot i. The tag is not touched.
func (b *bucket[H, P]) setSlot(keys keyStore[H], i int, hash uint64, n uint32, h H, value uintptr) {
	storeInt(&b.hashes[i], hash)
	storeInt(&b.values[i], value)
	storeInt(&b.lens[i], n)
	keys.publish(&b.keys[i], h)
}

// clearSlot zeroes slot i. The tag must already be cleared.
func (b *bucket[H, P]) clearSlot(keys keyStore[H], i int) {
	storeInt(&b.hashes[i], 0)
	storeInt(&b.values[i], 0)
	storeInt(&b.lens[i], 0)
	keys.publish(&b.keys[i], *new(H))
}

// addOverflow adds delta to the overflow counter of the first depth buckets
// of the chain starting at b. The caller holds the home bucket lock.
func (b *bucket[H, P]) addOverflow(depth int, delta int32) {
	for ; depth > 0; depth-- {
		storeInt(&b.overflow, loadIntFast(&b.overflow)+uint32(delta))
		b = (*bucket[H, P])(b.next)
	}
}
