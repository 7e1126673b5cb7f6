package clht

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// matchTagScalar is the byte-by-byte reference for matchTag.
func matchTagScalar(meta uint64, tag uint8) uint64 {
	var marked uint64
	for i := 0; i < slotsPerBucket; i++ {
		if getByte(meta, i) == tag {
			marked |= uint64(0x80) << (i << 3)
		}
	}
	return marked
}

func TestTagOf(t *testing.T) {
	for _, h := range []uint64{0, 1, 1 << 56, 1 << 57, 1 << 63, ^uint64(0)} {
		tag := tagOf(h)
		require.NotEqual(t, tagEmpty, tag)
		require.Equal(t, slotMask, tag&slotMask)
		require.Equal(t, uint8(h>>57), tag&^slotMask)
	}
	// the low bits select the bucket and must not move the tag
	require.Equal(t, tagOf(0xabcd<<48), tagOf(0xabcd<<48|0xffff))
}

func TestMatchTag_Exact(t *testing.T) {
	tags := []uint8{tagEmpty, 0x80, 0x81, 0xfe, 0xff, 0x01, 0x7f}
	// every combination of four bytes drawn from tags
	for a := range tags {
		for b := range tags {
			for c := range tags {
				for d := range tags {
					var meta uint64
					meta = setByte(meta, tags[a], 0)
					meta = setByte(meta, tags[b], 1)
					meta = setByte(meta, tags[c], 2)
					meta = setByte(meta, tags[d], 3)
					for _, tag := range tags {
						require.Equal(t, matchTagScalar(meta, tag), matchTag(meta, tag),
							"meta=%#x tag=%#x", meta, tag)
					}
				}
			}
		}
	}
}

func TestMatchTag_Random(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100000; i++ {
		meta := r.Uint64()
		tag := uint8(r.Uint32())
		if i&1 == 0 {
			// force at least one hit
			meta = setByte(meta, tag, int(r.IntN(slotsPerBucket)))
		}
		require.Equal(t, matchTagScalar(meta, tag), matchTag(meta, tag),
			"meta=%#x tag=%#x", meta, tag)
	}
}

func TestMatchTag_IgnoresLockByte(t *testing.T) {
	meta := setByte(0, 0x85, 2) | opLockMask
	require.Equal(t, uint64(0x80)<<16, matchTag(meta, 0x85))
	require.Zero(t, matchTag(meta, 0xff)&^metaMask)
}

func TestMatchEmptyAndFull(t *testing.T) {
	meta := setByte(setByte(0, 0x90, 0), 0xa1, 3) | opLockMask
	require.Equal(t, uint64(0x80)<<8|uint64(0x80)<<16, matchEmpty(meta))
	require.Equal(t, uint64(0x80)|uint64(0x80)<<24, matchFull(meta))
	require.Equal(t, 1, firstMarkedByteIndex(matchEmpty(meta)))
	require.Equal(t, 0, firstMarkedByteIndex(matchFull(meta)))
	require.Equal(t, metaMask, matchEmpty(opLockMask))
	require.Zero(t, matchFull(opLockMask))
}

func TestSetGetByte(t *testing.T) {
	var w uint64
	for i := 0; i < 8; i++ {
		w = setByte(w, uint8(i+1)*0x11, i)
	}
	for i := 0; i < 8; i++ {
		require.Equal(t, uint8(i+1)*0x11, getByte(w, i))
	}
	w = setByte(w, 0, 3)
	require.Zero(t, getByte(w, 3))
	require.Equal(t, uint8(0x33), getByte(w, 2))
	require.Equal(t, uint8(0x55), getByte(w, 4))
}

func BenchmarkMatchTag(b *testing.B) {
	meta := uint64(0x00_00_00_00_85_81_9a_f3)
	var sink uint64
	for i := 0; i < b.N; i++ {
		sink += matchTag(meta, uint8(i)|slotMask)
	}
	_ = sink
}
