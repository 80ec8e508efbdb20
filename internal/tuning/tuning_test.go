package tuning

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

const mib = 1024 * 1024

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

type fakeDetector struct {
	info  CPUInfo
	err   error
	calls int
}

func (d *fakeDetector) CPUInfo() (CPUInfo, error) {
	d.calls++
	return d.info, d.err
}

func affinities(threads []ThreadConfig) []int {
	out := make([]int, len(threads))
	for i, t := range threads {
		out[i] = t.Affinity
	}
	return out
}

func TestPlan(t *testing.T) {
	intel := CPUInfo{Logical: 8, L3CacheKB: 16 * 1024, VendorID: "GenuineIntel", Family: 6}

	tests := []struct {
		name       string
		info       CPUInfo
		memPerLane uint64
		wantBatch  int
		wantAff    []int
	}{
		{"one lane per thread", intel, 2 * mib, 1, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{"large cache", CPUInfo{Logical: 4, L3CacheKB: 32 * 1024, VendorID: "GenuineIntel"}, 2 * mib, 4, []int{0, 1, 2, 3}},
		{"clamped high", CPUInfo{Logical: 2, L3CacheKB: 64 * 1024}, 2 * mib, 5, []int{0, 1}},
		{"clamped low", CPUInfo{Logical: 8, L3CacheKB: 1024}, 2 * mib, 1, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{"no memory needed", intel, 0, 5, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{"old amd", CPUInfo{Logical: 6, L3CacheKB: 8 * 1024, VendorID: "AuthenticAMD", Family: 0x15}, 2 * mib, 1, []int{0, 2, 4, 1, 3, 5}},
		{"zen", CPUInfo{Logical: 4, L3CacheKB: 16 * 1024, VendorID: "AuthenticAMD", Family: 0x17}, 2 * mib, 2, []int{0, 1, 2, 3}},
		{"unknown cpu count", CPUInfo{}, 0, 5, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threads := Plan(tt.info, tt.memPerLane)
			for _, th := range threads {
				if th.BatchFactor != tt.wantBatch {
					t.Fatalf("batch = %d, want %d", th.BatchFactor, tt.wantBatch)
				}
			}
			if got := affinities(threads); !reflect.DeepEqual(got, tt.wantAff) {
				t.Errorf("affinity = %v, want %v", got, tt.wantAff)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	info := CPUInfo{Logical: 8, L3CacheKB: 16384, VendorID: "GenuineIntel", Family: 6, ModelName: "Xeon"}
	a := Fingerprint(info, "sha256d")
	if a != Fingerprint(info, "sha256d") {
		t.Error("fingerprint not stable")
	}
	if a == Fingerprint(info, "argon2id") {
		t.Error("kernel not part of fingerprint")
	}
	info.Logical = 4
	if a == Fingerprint(info, "sha256d") {
		t.Error("cpu count not part of fingerprint")
	}
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := OpenStore(path, testLogger())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.db")
	s := openTestStore(t, path)

	if _, ok, err := s.Load("missing"); err != nil || ok {
		t.Fatalf("Load(missing) = %v, %v", ok, err)
	}

	want := &Layout{Threads: []ThreadConfig{{BatchFactor: 3, Affinity: 0}, {BatchFactor: 3, Affinity: -1}}, CreatedAt: 1700000000}
	if err := s.Save("host", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := s.Load("host")
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("layout = %+v, want %+v", got, want)
	}
	s.Close()

	reopened := openTestStore(t, path)
	defer reopened.Close()
	if _, ok, _ := reopened.Load("host"); !ok {
		t.Error("layout lost across reopen")
	}
}

func TestResolve_Explicit(t *testing.T) {
	det := &fakeDetector{}
	explicit := []ThreadConfig{{BatchFactor: 2, Affinity: 3}}

	threads, src, err := Resolve(explicit, nil, det, "sha256d", 0, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if src != SourceConfig || !reflect.DeepEqual(threads, explicit) {
		t.Errorf("got %v from %s", threads, src)
	}
	if det.calls != 0 {
		t.Error("detector consulted despite explicit layout")
	}

	if _, _, err := Resolve([]ThreadConfig{{BatchFactor: 6}}, nil, det, "sha256d", 0, testLogger()); err == nil {
		t.Error("batch factor 6 accepted")
	}
}

func TestResolve_DetectThenStored(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "tuning.db"))
	defer store.Close()
	det := &fakeDetector{info: CPUInfo{Logical: 2, L3CacheKB: 8192, VendorID: "GenuineIntel", ModelName: "Test"}}

	first, src, err := Resolve(nil, store, det, "argon2id", 2*mib, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if src != SourceDetected || len(first) != 2 || first[0].BatchFactor != 2 {
		t.Fatalf("first = %v from %s", first, src)
	}

	// A stored layout wins over what detection would now produce.
	custom := &Layout{Threads: []ThreadConfig{{BatchFactor: 1, Affinity: -1}}}
	if err := store.Save(Fingerprint(det.info, "argon2id"), custom); err != nil {
		t.Fatal(err)
	}
	second, src, err := Resolve(nil, store, det, "argon2id", 2*mib, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if src != SourceStored || !reflect.DeepEqual(second, custom.Threads) {
		t.Errorf("second = %v from %s", second, src)
	}
}

func TestResolve_InvalidStoredIgnored(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "tuning.db"))
	defer store.Close()
	det := &fakeDetector{info: CPUInfo{Logical: 1, L3CacheKB: 4096}}

	bad := &Layout{Threads: []ThreadConfig{{BatchFactor: 9}}}
	if err := store.Save(Fingerprint(det.info, "sha256d"), bad); err != nil {
		t.Fatal(err)
	}
	threads, src, err := Resolve(nil, store, det, "sha256d", 0, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if src != SourceDetected || threads[0].BatchFactor != 5 {
		t.Errorf("got %v from %s", threads, src)
	}
}

func TestResolve_DetectorError(t *testing.T) {
	det := &fakeDetector{err: errors.New("no /proc")}
	if _, _, err := Resolve(nil, nil, det, "sha256d", 0, testLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestLimit(t *testing.T) {
	layout := []ThreadConfig{{BatchFactor: 2, Affinity: 0}, {BatchFactor: 3, Affinity: 2}}

	if got := Limit(layout, 0); len(got) != 2 {
		t.Errorf("Limit(0) len = %d", len(got))
	}
	if got := Limit(layout, 1); len(got) != 1 || got[0] != layout[0] {
		t.Errorf("Limit(1) = %+v", got)
	}
	got := Limit(layout, 4)
	if len(got) != 4 {
		t.Fatalf("Limit(4) len = %d", len(got))
	}
	for i := 2; i < 4; i++ {
		if got[i] != (ThreadConfig{BatchFactor: 3, Affinity: -1}) {
			t.Errorf("thread %d = %+v", i, got[i])
		}
	}
}
