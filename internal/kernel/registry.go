package kernel

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
)

// Options configures kernels that take parameters.
type Options struct {
	Argon2MemoryKB uint32
}

var constructors = map[string]func(Options) Kernel{
	"sha256d":  func(Options) Kernel { return SHA256d{} },
	"blake2b":  func(Options) Kernel { return Blake2b{} },
	"argon2id": func(o Options) Kernel { return NewArgon2id(o.Argon2MemoryKB) },
}

// golden holds the digest of SelfTestInput for kernels with a fixed output.
var golden = map[string]string{
	"sha256d": "eac649d431aa3fc2d5749d1a5021bba7812ec83b8a59fa840bff75c17f8a665c",
	"blake2b": "fe9bee7df50a35fda7d9175add85b1feaf615607bfb15d629ff2103218c63e62",
}

// SelfTestInput is hashed by SelfTest and compared against the golden digest.
var SelfTestInput = []byte("This is a test")

// Lookup returns the kernel registered under name.
func Lookup(name string, opts Options) (Kernel, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
	}
	return ctor(opts), nil
}

// Names lists the registered kernels in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Golden returns the expected digest of SelfTestInput for the named kernel.
func Golden(name string) (Digest, bool) {
	var d Digest
	s, ok := golden[name]
	if !ok {
		return d, false
	}
	b, _ := hex.DecodeString(s)
	copy(d[:], b)
	return d, true
}

// SelfTest checks that an n-way batch of k matches single-lane hashing and,
// when k has a golden vector, that SelfTestInput hashes to it.
func SelfTest(k Kernel, n int) error {
	single, err := k.NewHasher()
	if err != nil {
		return fmt.Errorf("self test %s: %w", k.Name(), err)
	}

	if want, ok := Golden(k.Name()); ok {
		if got := single.Sum(SelfTestInput); got != want {
			return fmt.Errorf("self test %s: golden mismatch: got %x", k.Name(), got)
		}
	}

	batch, err := NewBatch(k, n)
	if err != nil {
		return fmt.Errorf("self test %s: %w", k.Name(), err)
	}

	lanes := make([][]byte, n)
	for i := range lanes {
		lanes[i] = append(bytes.Clone(SelfTestInput), byte(i))
	}
	out := make([]Digest, n)
	batch.Hash(lanes, out)

	for i := range lanes {
		if want := single.Sum(lanes[i]); out[i] != want {
			return fmt.Errorf("self test %s: %d-way lane %d differs from single hash", k.Name(), n, i)
		}
	}
	return nil
}
