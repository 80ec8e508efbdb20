package kernel

import (
	"errors"
	"testing"
)

// smallArgon2 keeps the argon2 tests fast.
func smallArgon2() *Argon2id {
	k := NewArgon2id(64)
	k.availableMemory = func() (uint64, error) { return 1 << 30, nil }
	return k
}

func TestGoldenVectors(t *testing.T) {
	for _, name := range []string{"sha256d", "blake2b"} {
		t.Run(name, func(t *testing.T) {
			k, err := Lookup(name, Options{})
			if err != nil {
				t.Fatal(err)
			}
			h, err := k.NewHasher()
			if err != nil {
				t.Fatal(err)
			}
			want, ok := Golden(name)
			if !ok {
				t.Fatalf("no golden vector for %s", name)
			}
			if got := h.Sum([]byte("This is a test")); got != want {
				t.Errorf("%s(\"This is a test\") = %x, want %x", name, got, want)
			}
		})
	}
}

func TestBatchMatchesSingle(t *testing.T) {
	kernels := []Kernel{SHA256d{}, Blake2b{}, smallArgon2()}

	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			blob := make([]byte, 76)
			copy(blob, "This is a test")

			lanes := make([][]byte, MaxBatch)
			for i := range lanes {
				lanes[i] = append([]byte(nil), blob...)
				lanes[i][39] = byte(i + 1)
			}

			one, err := NewBatch(k, 1)
			if err != nil {
				t.Fatal(err)
			}
			five, err := NewBatch(k, MaxBatch)
			if err != nil {
				t.Fatal(err)
			}

			wide := make([]Digest, MaxBatch)
			five.Hash(lanes, wide)

			for i := range lanes {
				narrow := make([]Digest, 1)
				one.Hash(lanes[i:i+1], narrow)
				if narrow[0] != wide[i] {
					t.Errorf("lane %d: 1-way %x != 5-way %x", i, narrow[0], wide[i])
				}
			}
		})
	}
}

func TestNewBatch_Range(t *testing.T) {
	for _, n := range []int{0, MaxBatch + 1, -1} {
		if _, err := NewBatch(SHA256d{}, n); !errors.Is(err, ErrBadBatch) {
			t.Errorf("NewBatch(%d) error = %v, want ErrBadBatch", n, err)
		}
	}
	b, err := NewBatch(SHA256d{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if b.Size() != 3 {
		t.Errorf("Size = %d, want 3", b.Size())
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup("cryptonight", Options{}); !errors.Is(err, ErrUnknownKernel) {
		t.Errorf("Lookup unknown error = %v, want ErrUnknownKernel", err)
	}

	k, err := Lookup("argon2id", Options{Argon2MemoryKB: 128})
	if err != nil {
		t.Fatal(err)
	}
	if k.MemoryPerLane() != 128*1024 {
		t.Errorf("MemoryPerLane = %d, want %d", k.MemoryPerLane(), 128*1024)
	}

	names := Names()
	if len(names) != 3 || names[0] != "argon2id" {
		t.Errorf("Names = %v", names)
	}
}

func TestArgon2_InsufficientMemory(t *testing.T) {
	k := NewArgon2id(4096)
	k.availableMemory = func() (uint64, error) { return 1024, nil }

	if _, err := k.NewHasher(); !errors.Is(err, ErrInsufficientMemory) {
		t.Fatalf("NewHasher error = %v, want ErrInsufficientMemory", err)
	}
	if _, err := NewBatch(k, 2); !errors.Is(err, ErrInsufficientMemory) {
		t.Fatalf("NewBatch error = %v, want ErrInsufficientMemory", err)
	}
}

func TestArgon2_Deterministic(t *testing.T) {
	h, err := smallArgon2().NewHasher()
	if err != nil {
		t.Fatal(err)
	}
	a := h.Sum([]byte("blob"))
	b := h.Sum([]byte("blob"))
	c := h.Sum([]byte("blob2"))
	if a != b {
		t.Error("same input hashed differently")
	}
	if a == c {
		t.Error("different inputs hashed the same")
	}
}

func TestSelfTest(t *testing.T) {
	for _, k := range []Kernel{SHA256d{}, Blake2b{}, smallArgon2()} {
		for n := 1; n <= MaxBatch; n++ {
			if err := SelfTest(k, n); err != nil {
				t.Errorf("SelfTest(%s, %d): %v", k.Name(), n, err)
			}
		}
	}
}

type brokenKernel struct{ SHA256d }

func (brokenKernel) Name() string { return "sha256d" }

func (brokenKernel) NewHasher() (Hasher, error) { return zeroHasher{}, nil }

type zeroHasher struct{}

func (zeroHasher) Sum([]byte) Digest { return Digest{} }

func TestSelfTest_DetectsGoldenMismatch(t *testing.T) {
	if err := SelfTest(brokenKernel{}, 1); err == nil {
		t.Error("SelfTest accepted a kernel that does not match its golden vector")
	}
}
