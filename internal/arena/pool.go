package arena

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

const (
	// DefaultPoolSize is the initial Pool buffer size.
	DefaultPoolSize = 16 << 20
	// MaxPoolSize is the largest buffer a Pool can address with 32-bit
	// offsets.
	MaxPoolSize = 1 << 32
)

// poolBuf is one generation of the pool buffer.
type poolBuf struct {
	b []byte
}

// Pool stores records in one contiguous buffer and addresses them by 32-bit
// offset. When the buffer is full it is replaced by one twice the size and
// the old content is copied over. Readers load the current buffer
// atomically, and since every generation holds every record written before
// it was published, an offset obtained from a published slot is readable in
// any generation loaded after it.
type Pool struct {
	mu    sync.Mutex
	buf   atomic.Pointer[poolBuf]
	off   int
	grows int
	limit int64
}

// NewPool returns a Pool with an initial buffer of size bytes (DefaultPoolSize
// if size <= 0). A positive limit caps the total record bytes.
func NewPool(size, limit int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	size = int(min(int64(size), MaxPoolSize))
	size = (size + align - 1) &^ (align - 1)
	p := &Pool{limit: int64(max(limit, 0))}
	p.buf.Store(&poolBuf{b: make([]byte, size)})
	return p
}

// Put copies key into the pool and returns the offset of its record.
func (p *Pool) Put(key []byte) (uint32, error) {
	if len(key) > MaxKeyLen {
		return 0, ErrTooLarge
	}
	need := RecordSize(len(key))

	p.mu.Lock()
	defer p.mu.Unlock()

	end := int64(p.off) + int64(need)
	if end > MaxPoolSize || (p.limit > 0 && end > p.limit) {
		return 0, ErrExhausted
	}
	cur := p.buf.Load()
	if cur == nil {
		cur = &poolBuf{b: make([]byte, DefaultPoolSize)}
		p.buf.Store(cur)
	}
	if end > int64(len(cur.b)) {
		cur = p.growLocked(cur, end)
	}

	off := p.off
	writeRecord(cur.b[off:off+need], key)
	p.off += need
	return uint32(off), nil
}

func (p *Pool) growLocked(cur *poolBuf, need int64) *poolBuf {
	size := int64(len(cur.b))
	for size < need {
		size <<= 1
	}
	size = min(size, MaxPoolSize)
	next := &poolBuf{b: make([]byte, size)}
	copy(next.b, cur.b[:p.off])
	p.buf.Store(next)
	p.grows++
	return next
}

// Key returns the n key bytes of the record at off without copying. It
// returns nil when the record is out of range or holds a key of another
// length. The view stays valid after the pool grows.
func (p *Pool) Key(off, n uint32) []byte {
	cur := p.buf.Load()
	if cur == nil {
		return nil
	}
	if int64(off)+HeaderSize+int64(n) > int64(len(cur.b)) {
		return nil
	}
	start := int(off)
	rec := unsafe.Pointer(&cur.b[start])
	if Len(rec) != n {
		return nil
	}
	return cur.b[start+HeaderSize : start+HeaderSize+int(n) : start+HeaderSize+int(n)]
}

// Stats returns current memory usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var reserved int64
	if cur := p.buf.Load(); cur != nil {
		reserved = int64(len(cur.b))
	}
	return Stats{Used: int64(p.off), Reserved: reserved, Chunks: p.grows + 1}
}

// Reset drops the buffer. Later Puts allocate a fresh DefaultPoolSize one.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Store(nil)
	p.off, p.grows = 0, 0
}
