package arena

import (
	"bytes"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_PutKey(t *testing.T) {
	p := NewPool(64, 0)
	off1, err := p.Put([]byte("alpha"))
	require.NoError(t, err)
	off2, err := p.Put([]byte("beta"))
	require.NoError(t, err)
	require.Zero(t, off1)
	require.Equal(t, uint32(RecordSize(5)), off2)

	require.Equal(t, []byte("alpha"), p.Key(off1, 5))
	require.Equal(t, []byte("beta"), p.Key(off2, 4))
	require.Nil(t, p.Key(off2, 5), "length mismatch")
	require.Nil(t, p.Key(1<<20, 4), "out of range")
}

func TestPool_GrowKeepsRecords(t *testing.T) {
	p := NewPool(16, 0)
	var offs []uint32
	for i := 0; i < 100; i++ {
		off, err := p.Put([]byte(fmt.Sprintf("key-%03d", i)))
		require.NoError(t, err)
		offs = append(offs, off)
	}
	st := p.Stats()
	require.Greater(t, st.Chunks, 1)
	require.GreaterOrEqual(t, st.Reserved, st.Used)
	for i, off := range offs {
		require.Equal(t, fmt.Sprintf("key-%03d", i), string(p.Key(off, 7)))
	}
}

func TestPool_ViewSurvivesGrow(t *testing.T) {
	p := NewPool(16, 0)
	off, err := p.Put([]byte("stable"))
	require.NoError(t, err)
	view := p.Key(off, 6)
	for i := 0; i < 64; i++ {
		_, err := p.Put(bytes.Repeat([]byte{'z'}, 32))
		require.NoError(t, err)
	}
	require.Equal(t, "stable", string(view))
	require.Equal(t, "stable", string(p.Key(off, 6)))
}

func TestPool_Limit(t *testing.T) {
	p := NewPool(0, 16)
	_, err := p.Put([]byte("12345678901")) // 16 bytes
	require.NoError(t, err)
	before := p.Stats()
	_, err = p.Put([]byte(""))
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, before, p.Stats())
}

func TestPool_Reset(t *testing.T) {
	p := NewPool(0, 0)
	_, err := p.Put([]byte("gone"))
	require.NoError(t, err)
	p.Reset()
	require.Nil(t, p.Key(0, 4))
	off, err := p.Put([]byte("fresh"))
	require.NoError(t, err)
	require.Zero(t, off)
	require.Equal(t, "fresh", string(p.Key(off, 5)))
}

func TestPool_DefaultSize(t *testing.T) {
	p := NewPool(0, 0)
	require.Equal(t, int64(16<<20), p.Stats().Reserved)
	require.Equal(t, int64(DefaultPoolSize), NewPool(-1, 0).Stats().Reserved)

	// a reset pool starts over at the default size
	_, err := p.Put(bytes.Repeat([]byte{'g'}, 17<<20))
	require.NoError(t, err)
	require.Equal(t, int64(32<<20), p.Stats().Reserved)
	p.Reset()
	_, err = p.Put([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, int64(DefaultPoolSize), p.Stats().Reserved)
}

func TestPool_KeyOffsetBeyondBuffer(t *testing.T) {
	p := NewPool(64, 0)
	_, err := p.Put([]byte("edge"))
	require.NoError(t, err)
	require.Nil(t, p.Key(math.MaxUint32, 4))
	require.Nil(t, p.Key(math.MaxUint32-HeaderSize, math.MaxUint32))
	require.Nil(t, p.Key(60, 4))
}

func TestPool_ConcurrentPutAndRead(t *testing.T) {
	const writers = 4
	const perW = 5000
	p := NewPool(64, 0)
	offs := make([][]uint32, writers)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			offs[w] = make([]uint32, perW)
			for i := 0; i < perW; i++ {
				key := fmt.Sprintf("w%d/%d", w, i)
				off, err := p.Put([]byte(key))
				if err != nil {
					t.Errorf("put: %v", err)
					return
				}
				if got := p.Key(off, uint32(len(key))); string(got) != key {
					t.Errorf("read back %q, want %q", got, key)
					return
				}
				offs[w][i] = off
			}
		}(w)
	}
	wg.Wait()
	for w := 0; w < writers; w++ {
		for i := 0; i < perW; i++ {
			key := fmt.Sprintf("w%d/%d", w, i)
			require.Equal(t, key, string(p.Key(offs[w][i], uint32(len(key)))))
		}
	}
}
