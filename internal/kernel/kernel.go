// Package kernel provides the hash functions workers run over job blobs.
//
// A Kernel is a factory for Hashers. A Hasher owns whatever scratch memory its
// algorithm needs, so each batch lane gets its own. Hashers are pure: the same
// blob always yields the same digest.
package kernel

import (
	"errors"
	"fmt"
)

// Digest is the fixed-width output of every kernel.
type Digest = [32]byte

// MaxBatch is the largest supported batching factor.
const MaxBatch = 5

var (
	ErrUnknownKernel      = errors.New("unknown kernel")
	ErrInsufficientMemory = errors.New("insufficient memory for hash context")
	ErrBadBatch           = errors.New("batch factor out of range")
)

// Hasher hashes one blob at a time. A Hasher is not safe for concurrent use.
type Hasher interface {
	Sum(blob []byte) Digest
}

// Kernel creates hashers for one algorithm.
type Kernel interface {
	Name() string
	// MemoryPerLane is the scratch memory one hasher needs, in bytes.
	MemoryPerLane() uint64
	NewHasher() (Hasher, error)
}

// Batch runs N hashers side by side, one per nonce lane.
type Batch struct {
	hashers []Hasher
}

// NewBatch allocates n hashers from k.
func NewBatch(k Kernel, n int) (*Batch, error) {
	if n < 1 || n > MaxBatch {
		return nil, fmt.Errorf("%w: %d", ErrBadBatch, n)
	}
	b := &Batch{hashers: make([]Hasher, n)}
	for i := range n {
		h, err := k.NewHasher()
		if err != nil {
			return nil, fmt.Errorf("lane %d: %w", i, err)
		}
		b.hashers[i] = h
	}
	return b, nil
}

// Size returns the batching factor.
func (b *Batch) Size() int {
	return len(b.hashers)
}

// Hash runs one invocation over all lanes. len(lanes) and len(out) must both
// equal Size.
func (b *Batch) Hash(lanes [][]byte, out []Digest) {
	for i, h := range b.hashers {
		out[i] = h.Sum(lanes[i])
	}
}
