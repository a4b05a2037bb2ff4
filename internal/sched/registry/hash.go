package registry

import "github.com/cespare/xxhash/v2"

// xxh64 hashes s with xxhash for deterministic, non-cryptographic sharding
// and tie-breaking — used instead of Go's randomized map iteration order
// wherever the selector needs a stable ordering across processes.
func xxh64(s string) uint64 {
	return xxhash.Sum64String(s)
}
