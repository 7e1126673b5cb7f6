package clht

import (
	"bytes"
	"encoding/binary"
)

// equalKeys reports whether a and b hold the same bytes. Lengths are checked
// first, then 8-byte blocks, then the tail.
func equalKeys(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for len(a) >= 8 {
		if binary.LittleEndian.Uint64(a) != binary.LittleEndian.Uint64(b) {
			return false
		}
		a, b = a[8:], b[8:]
	}
	return string(a) == string(b)
}

// compareKeys orders keys by length first, then by the first differing
// unsigned byte. It returns -1, 0 or +1.
func compareKeys(a, b []byte) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return bytes.Compare(a, b)
}
