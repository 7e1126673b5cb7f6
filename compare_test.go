package clht

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func compareKeysNaive(a, b []byte) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestEqualKeys_Differential(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 20000; i++ {
		a := make([]byte, r.IntN(40))
		for j := range a {
			a[j] = byte(r.IntN(4))
		}
		b := append([]byte(nil), a...)
		switch r.IntN(4) {
		case 0:
			if len(b) > 0 {
				b[r.IntN(len(b))] ^= byte(1 + r.IntN(255))
			}
		case 1:
			b = append(b, 0)
		case 2:
			if len(b) > 0 {
				b = b[:len(b)-1]
			}
		}
		require.Equal(t, bytes.Equal(a, b), equalKeys(a, b), "a=%q b=%q", a, b)
		require.Equal(t, compareKeysNaive(a, b), compareKeys(a, b), "a=%q b=%q", a, b)
	}
}

func TestEqualKeys_Edges(t *testing.T) {
	require.True(t, equalKeys(nil, nil))
	require.True(t, equalKeys(nil, []byte{}))
	require.False(t, equalKeys([]byte("ab"), []byte("ab\x00")))
	require.True(t, equalKeys([]byte("0123456789abcdef"), []byte("0123456789abcdef")))
	require.False(t, equalKeys([]byte("0123456789abcdef"), []byte("0123456789abcdeF")))
	require.False(t, equalKeys([]byte("x1234567"), []byte("y1234567")))
}

func TestCompareKeys_Order(t *testing.T) {
	require.Equal(t, -1, compareKeys([]byte("zz"), []byte("aaa")))
	require.Equal(t, 1, compareKeys([]byte("b"), []byte("a")))
	require.Equal(t, 1, compareKeys([]byte{0xff}, []byte{0x01}))
	require.Equal(t, 0, compareKeys([]byte("same"), []byte("same")))
	require.Equal(t, -1, compareKeys(nil, []byte{0}))
}
