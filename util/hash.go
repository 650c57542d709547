package util

import "github.com/cespare/xxhash/v2"

const hashMask = uint32(0x7fffffff)

// Hash returns a non-negative int hash of the given string key.
func Hash(key string) int {
	return int(uint32(xxhash.Sum64String(key)) & hashMask)
}

// Checksum folds the 64-bit xxhash of b into 32 bits.
func Checksum(b []byte) uint32 {
	h := xxhash.Sum64(b)
	return uint32(h>>32) ^ uint32(h)
}
