package util

import (
	"encoding/binary"
	"math"

	sha256 "github.com/minio/sha256-simd"
)

// DoubleSHA256 computes SHA256(SHA256(data)).
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// DigestTail returns the last 8 bytes of a digest read as a little-endian
// integer. This is the value compared against a job target.
func DigestTail(digest [32]byte) uint64 {
	return binary.LittleEndian.Uint64(digest[24:32])
}

// MeetsTarget reports whether the digest wins against target. The comparison
// is strict: a tail equal to the target does not win.
func MeetsTarget(digest [32]byte, target uint64) bool {
	return DigestTail(digest) < target
}

// TargetToDifficulty converts a 64-bit target into the pool difficulty it
// represents. A zero target has no meaningful difficulty and returns 0.
func TargetToDifficulty(target uint64) uint64 {
	if target == 0 {
		return 0
	}
	return math.MaxUint64 / target
}

// CompactTarget expands a 32-bit pool target into the 64-bit space used for
// digest comparison.
func CompactTarget(t uint32) uint64 {
	if t == 0 {
		return 0
	}
	return math.MaxUint64 / (math.MaxUint32 / uint64(t))
}
