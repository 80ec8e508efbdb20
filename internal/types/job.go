package types

import (
	"github.com/djkazic/cpuminer-go/pkg/util"
)

// PoolJob is a job exactly as the pool sent it. It is converted to MinerWork
// as soon as it is received.
type PoolJob struct {
	JobID  string
	Blob   string
	Target string
	Motd   string

	// SavedNonce seeds the nonce cursor when the job is switched in. It is
	// set when the pool retargets the job already being hashed.
	SavedNonce uint32
}

// Work validates and converts the raw job. Returned errors are *ProtocolError.
func (j *PoolJob) Work() (*MinerWork, error) {
	if len(j.JobID) > MaxJobIDLen {
		return nil, protoErr(FieldTooLong, "job_id", "Job error 3")
	}
	if len(j.Blob)/2 > MaxBlobLen {
		return nil, protoErr(FieldTooLong, "blob", invalidJobLength)
	}

	target, err := util.TargetFromHex(j.Target)
	if err != nil {
		return nil, protoErr(BadTarget, "target", "Job error 5")
	}

	blob, err := util.HexToBytes(j.Blob)
	if err != nil {
		return nil, protoErr(BadHex, "blob", "Job error 4")
	}

	return NewMinerWork(j.JobID, blob, target)
}

// Difficulty returns the pool difficulty of the job target, or 0 when the
// target does not parse.
func (j *PoolJob) Difficulty() uint64 {
	target, err := util.TargetFromHex(j.Target)
	if err != nil {
		return 0
	}
	return util.TargetToDifficulty(target)
}
