package bench

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/llxisdsh/pb"
)

// keySet represents an in-flight or completed key generation.
type keySet struct {
	wg   sync.WaitGroup
	keys [][]byte
	err  error
	dups int32
}

// KeyCache generates every KeySpec once and hands the same keys to all
// callers. Concurrent callers asking for the same KeySpec wait for the first
// one instead of generating the keys again.
//
// The zero value is ready to use.
type KeyCache struct {
	m pb.MapOf[KeySpec, *keySet]
}

// Get returns the keys of keySpec, generating them on first use. The returned
// slices are shared and must not be modified. shared reports whether
// another caller generated or waited for the same keys.
func (c *KeyCache) Get(keySpec KeySpec) (keys [][]byte, shared bool, err error) {
	var ks *keySet
	_, loaded := c.m.ProcessEntry(
		keySpec,
		func(l *pb.EntryOf[KeySpec, *keySet]) (*pb.EntryOf[KeySpec, *keySet], *keySet, bool) {
			if l != nil {
				ks = l.Value
				atomic.AddInt32(&ks.dups, 1)
				return l, ks, true
			}
			ks = &keySet{}
			ks.wg.Add(1)
			return &pb.EntryOf[KeySpec, *keySet]{Value: ks}, ks, false
		},
	)
	if loaded {
		ks.wg.Wait()
		return ks.keys, true, ks.err
	}

	c.generate(keySpec, ks)
	return ks.keys, atomic.LoadInt32(&ks.dups) > 0, ks.err
}

// generate fills ks. Failed generations are dropped from the cache so a
// later Get can retry; waiters already queued get the error.
func (c *KeyCache) generate(keySpec KeySpec, ks *keySet) {
	defer func() {
		if r := recover(); r != nil {
			ks.err = newPanicError(r)
		}
		if ks.err != nil {
			c.Forget(keySpec)
		}
		ks.wg.Done()
	}()
	ks.keys, ks.err = GenerateKeys(keySpec)
}

// Forget drops the keys of keySpec. Callers that already hold them keep them.
func (c *KeyCache) Forget(keySpec KeySpec) {
	c.m.Delete(keySpec)
}

// Len returns the number of cached key sets.
func (c *KeyCache) Len() int {
	return c.m.Size()
}

// panicError is a value recovered from a panic during key generation, with
// the stack trace of the generating goroutine.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("bench: key generation panicked: %v\n\n%s", p.value, p.stack)
}

func (p *panicError) Unwrap() error {
	if err, ok := p.value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) error {
	stack := debug.Stack()
	// Trim first line "goroutine N [status]:" which can be misleading.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &panicError{value: v, stack: stack}
}
