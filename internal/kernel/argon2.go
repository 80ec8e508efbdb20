package kernel

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/crypto/argon2"
)

const (
	// DefaultArgon2MemoryKB matches the 2 MiB scratchpad of classic CPU
	// mining algorithms.
	DefaultArgon2MemoryKB = 2048
	defaultArgon2Time     = 1
)

var argon2Salt = []byte("cpuminer-go/argon2id")

// Argon2id is a memory-hard kernel. Every hasher reserves MemoryKB of memory
// per call, so hasher creation checks that the host has it available.
type Argon2id struct {
	MemoryKB uint32
	Time     uint32

	// availableMemory reports free memory in bytes. Replaced in tests.
	availableMemory func() (uint64, error)
}

// NewArgon2id returns an Argon2id kernel with memKB of scratch per lane.
func NewArgon2id(memKB uint32) *Argon2id {
	if memKB == 0 {
		memKB = DefaultArgon2MemoryKB
	}
	return &Argon2id{
		MemoryKB:        memKB,
		Time:            defaultArgon2Time,
		availableMemory: hostAvailableMemory,
	}
}

func hostAvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

func (a *Argon2id) Name() string { return "argon2id" }

func (a *Argon2id) MemoryPerLane() uint64 {
	return uint64(a.MemoryKB) * 1024
}

func (a *Argon2id) NewHasher() (Hasher, error) {
	if a.availableMemory != nil {
		avail, err := a.availableMemory()
		if err != nil {
			return nil, fmt.Errorf("probe memory: %w", err)
		}
		if avail < a.MemoryPerLane() {
			return nil, fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientMemory, a.MemoryPerLane(), avail)
		}
	}
	return &argon2Hasher{memKB: a.MemoryKB, time: a.Time}, nil
}

type argon2Hasher struct {
	memKB uint32
	time  uint32
}

func (h *argon2Hasher) Sum(blob []byte) Digest {
	var d Digest
	copy(d[:], argon2.IDKey(blob, argon2Salt, h.time, h.memKB, 1, uint32(len(d))))
	return d
}
