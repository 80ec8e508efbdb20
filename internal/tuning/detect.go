// Package tuning picks a worker thread layout for the host: how many workers
// to run, how many lanes each hashes per batch and which CPU each is pinned
// to. Layouts can be given explicitly, reused from a previous run or derived
// from the CPU.
package tuning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

const (
	maxBatch = 5

	vendorAMD = "AuthenticAMD"
	// familyZen is the first AMD family whose SMT siblings are numbered
	// sequentially.
	familyZen = 0x17
)

// ThreadConfig is one worker of a layout. Affinity is a CPU index, or -1 to
// leave the worker unpinned. A config entry without affinity is unpinned.
type ThreadConfig struct {
	BatchFactor int `cbor:"1,keyasint" toml:"batch"`
	Affinity    int `cbor:"2,keyasint" toml:"affinity" default:"-1"`
}

// CPUInfo is what the layout planner needs to know about the host.
type CPUInfo struct {
	Logical   int
	L3CacheKB int
	VendorID  string
	Family    int
	ModelName string
}

// Detector reports host CPU information.
type Detector interface {
	CPUInfo() (CPUInfo, error)
}

// HostDetector reads CPU information through gopsutil.
type HostDetector struct{}

func (HostDetector) CPUInfo() (CPUInfo, error) {
	logical, err := cpu.Counts(true)
	if err != nil {
		return CPUInfo{}, fmt.Errorf("count cpus: %w", err)
	}
	infos, err := cpu.Info()
	if err != nil {
		return CPUInfo{}, fmt.Errorf("read cpu info: %w", err)
	}
	if len(infos) == 0 {
		return CPUInfo{}, fmt.Errorf("read cpu info: no processors reported")
	}

	first := infos[0]
	family, _ := strconv.Atoi(strings.TrimSpace(first.Family))
	return CPUInfo{
		Logical:   logical,
		L3CacheKB: int(first.CacheSize),
		VendorID:  first.VendorID,
		Family:    family,
		ModelName: strings.TrimSpace(first.ModelName),
	}, nil
}

// Fingerprint identifies a host and kernel combination in the layout store.
func Fingerprint(info CPUInfo, kernelName string) string {
	return fmt.Sprintf("%s|%s|%d|%d|%d|%s",
		info.VendorID, info.ModelName, info.Family, info.Logical, info.L3CacheKB, kernelName)
}

// Plan derives a layout: one worker per logical CPU, each batching as many
// lanes as its share of the L3 cache holds (1 to 5). Pre-Zen AMD parts are
// pinned to every other CPU first so that module siblings fill up last.
func Plan(info CPUInfo, memPerLane uint64) []ThreadConfig {
	n := info.Logical
	if n < 1 {
		n = 1
	}

	batch := maxBatch
	if memPerLane > 0 {
		perThread := uint64(info.L3CacheKB) * 1024 / (memPerLane * uint64(n))
		batch = int(min(perThread, maxBatch))
	}
	batch = max(batch, 1)

	oldAMD := info.VendorID == vendorAMD && info.Family < familyZen

	threads := make([]ThreadConfig, n)
	affinity := 0
	for i := range threads {
		threads[i] = ThreadConfig{BatchFactor: batch, Affinity: affinity}
		if oldAMD {
			affinity += 2
			if affinity >= n {
				affinity = 1
			}
		} else {
			affinity++
		}
	}
	return threads
}

func validLayout(threads []ThreadConfig) bool {
	if len(threads) == 0 {
		return false
	}
	for _, t := range threads {
		if t.BatchFactor < 1 || t.BatchFactor > maxBatch {
			return false
		}
	}
	return true
}
