package kernel

import (
	"github.com/djkazic/cpuminer-go/pkg/util"
)

// SHA256d is double SHA-256. It needs no scratch memory.
type SHA256d struct{}

func (SHA256d) Name() string          { return "sha256d" }
func (SHA256d) MemoryPerLane() uint64 { return 0 }

func (SHA256d) NewHasher() (Hasher, error) {
	return sha256dHasher{}, nil
}

type sha256dHasher struct{}

func (sha256dHasher) Sum(blob []byte) Digest {
	return util.DoubleSHA256(blob)
}
