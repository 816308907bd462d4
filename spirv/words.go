package spirv

import "encoding/binary"

// WordsFromBytes reinterprets b as little-endian words. A length that is not a
// multiple of 4 is zero padded up to the next multiple first.
func WordsFromBytes(b []byte) []uint32 {
	if rem := len(b) % 4; rem != 0 {
		padded := make([]byte, len(b)+4-rem)
		copy(padded, b)
		b = padded
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// Bytes returns the little-endian byte encoding of words.
func Bytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
