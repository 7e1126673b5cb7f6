package clht

import (
	"reflect"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/llxisdsh/clht/internal/opt"
)

// ============================================================================
// Private Constants
// ============================================================================

// cacheLineSize is the size of a cache line in bytes.
const cacheLineSize = opt.CacheLineSize_

const intSize = 32 << (^uint(0) >> 63) // 32 or 64

// counterStripe represents a striped counter to reduce contention.
type counterStripe struct {
	_ [(opt.CacheLineSize_ - unsafe.Sizeof(struct {
		c uintptr
	}{})%opt.CacheLineSize_) % opt.CacheLineSize_ * opt.PaddingMult_]byte
	c uintptr // Counter value, accessed atomically
}

// ============================================================================
// Utility Functions
// ============================================================================

// calcTableLen computes the home bucket count for the requested capacity.
// return value must be a power of 2
//
//go:nosplit
func calcTableLen(capacity int) int {
	if capacity <= 0 {
		return 1
	}
	return nextPowOf2((capacity + slotsPerBucket - 1) / slotsPerBucket)
}

// calcSizeLen computes the size count for the table
// return value must be a power of 2
//
//go:nosplit
func calcSizeLen(tableLen, cpus int) int {
	return nextPowOf2(min(cpus, tableLen>>10))
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal
// to n.
// Compatible with both 32-bit and 64-bit systems.
//
//go:nosplit
func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}
	v := n - 1
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	if intSize == 64 {
		v |= v >> 32
	}
	return v + 1
}

// ============================================================================
// Slice Utilities
// ============================================================================

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

//go:nosplit
func (s unsafeSlice[T]) At(i int) *T {
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(*new(T))*uintptr(i)))
}

// makeAlignedSlice returns n zeroed values of T, the first one starting on a
// cache line boundary.
//
// The heap gives no alignment guarantee beyond the word size, and objects
// with a malloc header start one word into their block. The slice is carved
// out of a typed struct{Pad [k]byte; Items [n]T}, so the garbage collector
// sees the pointers of T at their real offsets. k is learned from the
// misalignment of the previous attempt; if the allocator keeps moving the
// block, the last attempt is returned unaligned.
func makeAlignedSlice[T any](n int) []T {
	items := reflect.ArrayOf(n, reflect.TypeFor[T]())
	var s []T
	pad := 0
	for range 4 {
		typ := items
		if pad > 0 {
			typ = reflect.StructOf([]reflect.StructField{
				{Name: "Pad", Type: reflect.ArrayOf(pad, reflect.TypeFor[byte]())},
				{Name: "Items", Type: items},
			})
		}
		p := reflect.New(typ).UnsafePointer()
		if pad > 0 {
			p = unsafe.Add(p, typ.Field(1).Offset)
		}
		s = unsafe.Slice((*T)(p), n)
		miss := int(uintptr(p) % cacheLineSize)
		if miss == 0 {
			break
		}
		pad = (pad + int(cacheLineSize) - miss) % int(cacheLineSize)
	}
	return s
}

// ============================================================================
// Locker Utilities
// ============================================================================

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func trySpin(spins *int) bool {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return true
	}
	return false
}

func delay(spins *int) {
	if trySpin(spins) {
		return
	}
	*spins = 0
	// time.Sleep with non-zero duration (≈Millisecond level) works
	// effectively as backoff under high concurrency.
	// The 500µs duration is derived from Facebook/folly's implementation:
	// https://github.com/facebook/folly/blob/main/folly/synchronization/detail/Sleeper.h
	time.Sleep(500 * time.Microsecond)
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//goland:noinspection ALL
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//goland:noinspection ALL
func runtime_doSpin()

// ============================================================================
// Atomic Utilities
// ============================================================================

// Slot fields are written under the home bucket lock and read without it.
// Writers therefore always use storeInt/storePtr, readers use loadInt/loadPtr,
// and code holding the lock may read with loadIntFast.

// isTSO_ detects TSO architectures; on TSO, plain reads/writes are safe for
// pointers and native word-sized integers
const isTSO_ = !opt.Race_ &&
	(runtime.GOARCH == "amd64" ||
		runtime.GOARCH == "386" ||
		runtime.GOARCH == "s390x")

// loadPtr loads a pointer atomically on non-TSO architectures.
// On TSO architectures, it performs a plain pointer load.
//
//go:nosplit
func loadPtr(addr *unsafe.Pointer) unsafe.Pointer {
	if isTSO_ {
		return *addr
	}
	return atomic.LoadPointer(addr)
}

// storePtr stores a pointer atomically on non-TSO architectures.
// On TSO architectures, it performs a plain pointer store.
//
//go:nosplit
func storePtr(addr *unsafe.Pointer, val unsafe.Pointer) {
	if isTSO_ {
		*addr = val
		return
	}
	atomic.StorePointer(addr, val)
}

// loadInt aligned integer load; plain on TSO when width matches,
// otherwise atomic
//
//go:nosplit
func loadInt[T ~uint32 | ~uint64 | ~uintptr](addr *T) T {
	if unsafe.Sizeof(T(0)) == 4 {
		if isTSO_ {
			return *addr
		}
		return T(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
	}
	if isTSO_ && intSize == 64 {
		return *addr
	}
	return T(atomic.LoadUint64((*uint64)(unsafe.Pointer(addr))))
}

// storeInt aligned integer store; plain on TSO when width matches,
// otherwise atomic
//
//go:nosplit
func storeInt[T ~uint32 | ~uint64 | ~uintptr](addr *T, val T) {
	if unsafe.Sizeof(T(0)) == 4 {
		if isTSO_ {
			*addr = val
			return
		}
		atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), uint32(val))
		return
	}
	if isTSO_ && intSize == 64 {
		*addr = val
		return
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(addr)), uint64(val))
}

// loadIntFast performs a non-atomic read, safe only when the caller holds
// the home bucket lock.
//
//go:nosplit
func loadIntFast[T ~uint32 | ~uint64 | ~uintptr](addr *T) T {
	if opt.Race_ {
		return loadInt(addr)
	}
	return *addr
}

// storeIntFast performs a non-atomic write, safe only for not-yet-published
// buckets.
//
//go:nosplit
func storeIntFast[T ~uint32 | ~uint64 | ~uintptr](addr *T, val T) {
	if opt.Race_ {
		storeInt(addr, val)
		return
	}
	*addr = val
}
