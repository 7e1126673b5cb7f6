// Package bench drives workloads against clht tables and other concurrent
// maps and reports the results.
package bench

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// missPrefix is not in alphabet, so keys starting with it are never
// generated as hit keys.
const missPrefix = '~'

// ErrKeySpace is returned when a KeySpec asks for more unique keys than its
// length range can produce in reasonable time.
var ErrKeySpace = errors.New("bench: key space too small")

// KeySpec describes a deterministic set of unique keys.
type KeySpec struct {
	Count  int    `json:"count"`
	MinLen int    `json:"min_len"`
	MaxLen int    `json:"max_len"`
	Seed   uint64 `json:"seed"`
	// Miss selects keys that never collide with the hit keys of the same
	// length range.
	Miss bool `json:"miss,omitempty"`
}

func (s KeySpec) validate() error {
	switch {
	case s.Count < 0:
		return fmt.Errorf("bench: negative key count %d", s.Count)
	case s.MinLen < 1 || s.MaxLen < s.MinLen:
		return fmt.Errorf("bench: bad key length range [%d, %d]", s.MinLen, s.MaxLen)
	case s.Miss && s.MaxLen < 2:
		return fmt.Errorf("bench: miss keys need a maximum length of at least 2")
	}
	return nil
}

// GenerateKeys returns s.Count unique alphanumeric keys with lengths uniform
// in [s.MinLen, s.MaxLen]. The same KeySpec always yields the same keys.
func GenerateKeys(s KeySpec) ([][]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, s.Count)
	keys := make([][]byte, 0, s.Count)
	rnd := rand.New(rand.NewPCG(s.Seed, uint64(s.MinLen)<<32|uint64(s.MaxLen)))
	if s.Miss {
		rnd = rand.New(rand.NewPCG(^s.Seed, uint64(s.MaxLen)<<32|uint64(s.MinLen)))
	}
	budget := s.Count*16 + 1024
	for len(keys) < s.Count {
		if budget == 0 {
			return nil, fmt.Errorf("%w: %d keys of length [%d, %d]", ErrKeySpace, s.Count, s.MinLen, s.MaxLen)
		}
		budget--
		key := randomKey(rnd, s.MinLen, s.MaxLen)
		if s.Miss {
			if len(key) < 2 {
				continue
			}
			key[0] = missPrefix
		}
		if _, dup := seen[string(key)]; dup {
			continue
		}
		seen[string(key)] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

func randomKey(rnd *rand.Rand, minLen, maxLen int) []byte {
	n := minLen + rnd.IntN(maxLen-minLen+1)
	key := make([]byte, n)
	for i := range key {
		key[i] = alphabet[rnd.IntN(len(alphabet))]
	}
	return key
}

// partition splits [0, n) into parts ranges of near equal size.
func partition(n, parts int) [][2]int {
	parts = max(min(parts, n), 1)
	ranges := make([][2]int, 0, parts)
	lo := 0
	for i := 0; i < parts; i++ {
		hi := lo + (n-lo)/(parts-i)
		ranges = append(ranges, [2]int{lo, hi})
		lo = hi
	}
	return ranges
}
