package types

import (
	"encoding/binary"

	"github.com/djkazic/cpuminer-go/pkg/util"
)

const (
	// MaxJobIDLen is the longest job id a pool may send.
	MaxJobIDLen = 63

	// MaxBlobLen is the largest decoded work blob accepted from a pool.
	MaxBlobLen = 112

	// NonceOffset is where the 32-bit little-endian nonce lives in a blob.
	NonceOffset = 39

	// MinBlobLen is the smallest blob that still has room for the nonce.
	MinBlobLen = NonceOffset + 4
)

const invalidJobLength = "Invalid job legth. Are you sure you are mining the correct coin?"

// MinerWork is the immutable snapshot of a job that workers hash. A new value
// is built for every job; fields are never changed after construction.
type MinerWork struct {
	JobID   string
	Blob    []byte
	Target  uint64
	Stalled bool
}

// NewMinerWork validates the job bounds and returns a work value owning a copy
// of blob.
func NewMinerWork(jobID string, blob []byte, target uint64) (*MinerWork, error) {
	if len(jobID) > MaxJobIDLen {
		return nil, protoErr(FieldTooLong, "job_id", "Job error 3")
	}
	if len(blob) > MaxBlobLen {
		return nil, protoErr(FieldTooLong, "blob", invalidJobLength)
	}
	if len(blob) < MinBlobLen {
		return nil, protoErr(FieldTooShort, "blob", invalidJobLength)
	}
	if target == 0 {
		return nil, protoErr(BadTarget, "target", "Job error 5")
	}

	owned := make([]byte, len(blob))
	copy(owned, blob)
	return &MinerWork{
		JobID:  jobID,
		Blob:   owned,
		Target: target,
	}, nil
}

// StalledWork returns the placeholder work used before the first job arrives.
func StalledWork() *MinerWork {
	return &MinerWork{Stalled: true}
}

// Difficulty returns the pool difficulty implied by the work target.
func (w *MinerWork) Difficulty() uint64 {
	return util.TargetToDifficulty(w.Target)
}

// WithNonce copies the blob into dst, reusing its capacity, and stamps nonce
// into the copy.
func (w *MinerWork) WithNonce(dst []byte, nonce uint32) []byte {
	dst = append(dst[:0], w.Blob...)
	PutNonce(dst, nonce)
	return dst
}

// PutNonce overwrites the nonce field of a blob lane in place.
func PutNonce(lane []byte, nonce uint32) {
	binary.LittleEndian.PutUint32(lane[NonceOffset:NonceOffset+4], nonce)
}
