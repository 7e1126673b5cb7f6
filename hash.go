package clht

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// HashKind selects the string hash function of a Table. The choice is fixed
// for the lifetime of the table.
type HashKind uint8

const (
	// HashCity is the default CityHash-style 64-bit mixer.
	HashCity HashKind = iota
	// HashCRC32 uses CRC32-C, hardware accelerated on amd64 (SSE4.2) and
	// arm64, widened to 64 bits with the length and the City finalizer.
	HashCRC32
	// HashXX uses xxHash64.
	HashXX
)

const (
	hashMul = 0x9ddfea08eb382d69

	// emptyKeyHash is the hash of the zero-length key for every HashKind.
	emptyKeyHash uint64 = hashMul
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// String returns the name of the hash kind.
func (k HashKind) String() string {
	switch k {
	case HashCity:
		return "city"
	case HashCRC32:
		return "crc32"
	case HashXX:
		return "xxhash"
	default:
		return "unknown"
	}
}

// ParseHashKind is the inverse of HashKind.String.
func ParseHashKind(s string) (HashKind, error) {
	for k := HashCity; k <= HashXX; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("clht: unknown hash kind %q", s)
}

// Sum hashes key with the algorithm k selects.
func (k HashKind) Sum(key []byte) uint64 {
	return k.hasher()(key)
}

func (k HashKind) hasher() func([]byte) uint64 {
	switch k {
	case HashCRC32:
		return hashCRC32
	case HashXX:
		return hashXX
	default:
		return hashCity
	}
}

// Hash returns the default 64-bit hash of key. It is deterministic across
// processes and platforms.
func Hash(key []byte) uint64 {
	return hashCity(key)
}

func hashCity(key []byte) uint64 {
	if len(key) == 0 {
		return emptyKeyHash
	}
	h := uint64(len(key)) * hashMul
	for len(key) >= 8 {
		h ^= binary.LittleEndian.Uint64(key) * hashMul
		h ^= h >> 47
		key = key[8:]
	}
	if len(key) > 0 {
		var tail uint64
		for i, c := range key {
			tail |= uint64(c) << (i << 3)
		}
		h ^= tail * hashMul
	}
	return fmix(h)
}

func hashCRC32(key []byte) uint64 {
	if len(key) == 0 {
		return emptyKeyHash
	}
	c := crc32.Checksum(key, castagnoli)
	return fmix((uint64(len(key))<<32 | uint64(c)) * hashMul)
}

func hashXX(key []byte) uint64 {
	if len(key) == 0 {
		return emptyKeyHash
	}
	return xxhash.Sum64(key)
}

//go:nosplit
func fmix(h uint64) uint64 {
	h ^= h >> 47
	h *= hashMul
	h ^= h >> 47
	return h
}
