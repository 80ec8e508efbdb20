package types

import (
	"math"

	"github.com/djkazic/cpuminer-go/pkg/util"
)

// JobResult is a winning nonce found by a worker.
type JobResult struct {
	JobID    string
	Nonce    uint32
	Digest   [32]byte
	WorkerID int
}

// NonceHex returns the nonce as sent in a submit.
func (r *JobResult) NonceHex() string {
	return util.NonceToHex(r.Nonce)
}

// DigestHex returns the digest as sent in a submit.
func (r *JobResult) DigestHex() string {
	return util.DigestToHex(r.Digest)
}

// Difficulty returns the actual difficulty the digest reached.
func (r *JobResult) Difficulty() uint64 {
	tail := util.DigestTail(r.Digest)
	if tail == 0 {
		return math.MaxUint64
	}
	return util.TargetToDifficulty(tail)
}
