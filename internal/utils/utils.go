package utils

import "hash/fnv"

// Hash returns the 64-bit FNV-1a hash of s.
func Hash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))

	return h.Sum64()
}

// Micros converts nanoseconds to microseconds, saturating at the u32 range.
func Micros(ns int64) uint32 {
	us := ns / 1000
	switch {
	case us < 0:
		return 0
	case us > int64(^uint32(0)):
		return ^uint32(0)
	default:
		return uint32(us)
	}
}
