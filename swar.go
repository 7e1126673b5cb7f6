package clht

import "math/bits"

const (
	// slotsPerBucket is the number of key slots per bucket. Tag bytes for
	// the slots occupy the low bytes of the meta word. Three slots keep the
	// widest bucket, with 16-byte key handles, within two 64-byte lines.
	slotsPerBucket = 3

	// opByteIdx reserves the highest byte of meta for the lock bit
	opByteIdx  = 7
	opLockMask = uint64(1) << (opByteIdx*8 + 7)

	// Metadata constants for bucket slot management
	metaEmpty uint64 = 0
	metaMask  uint64 = 0x8080808080808080 >>
		(64 - slotsPerBucket*8)
	lowBits  uint64 = 0x7f7f7f7f7f7f7f7f
	slotMask uint8  = 0x80
	tagEmpty uint8  = 0
)

// tagOf derives the one-byte slot tag from a key hash. The tag uses the top
// seven hash bits, the home bucket index uses the low bits, so the two stay
// independent. Occupied tags always carry slotMask, which keeps them apart
// from tagEmpty.
//
//go:nosplit
func tagOf(hash uint64) uint8 {
	return uint8(hash>>57) | slotMask
}

// broadcast replicates a byte value across all bytes of an uint64.
//
//go:nosplit
func broadcast(b uint8) uint64 {
	return 0x101010101010101 * uint64(b)
}

// matchTag returns a word with the most significant bit of byte i set
// exactly when slot i of meta holds tag.
//
// The match is exact, unlike the classic (w - 0x01..) & ^w trick: for every
// byte x of meta^broadcast(tag), (x & 0x7f) + 0x7f carries into bit 7 iff
// the low seven bits are nonzero, OR-ing x adds bit 7 itself, so bit 7 of the
// complement is set only for x == 0. No carry crosses a byte boundary.
//
//go:nosplit
func matchTag(meta uint64, tag uint8) uint64 {
	x := meta ^ broadcast(tag)
	return ^(((x & lowBits) + lowBits) | x) & metaMask
}

// matchEmpty marks every free slot of meta.
//
//go:nosplit
func matchEmpty(meta uint64) uint64 {
	return ^meta & metaMask
}

// matchFull marks every occupied slot of meta.
//
//go:nosplit
func matchFull(meta uint64) uint64 {
	return meta & metaMask
}

// firstMarkedByteIndex finds the index of the first marked byte in an uint64.
//
//go:nosplit
func firstMarkedByteIndex(w uint64) int {
	return bits.TrailingZeros64(w) >> 3
}

// setByte sets the byte at index idx in the uint64 w to the value b.
//
//go:nosplit
func setByte(w uint64, b uint8, idx int) uint64 {
	shift := idx << 3
	return (w &^ (0xff << shift)) | (uint64(b) << shift)
}

// getByte returns the byte at index idx of w.
//
//go:nosplit
func getByte(w uint64, idx int) uint8 {
	return uint8(w >> (idx << 3))
}
