package metrics

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg, "host-a"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg, "host-a"); err == nil {
		t.Error("second registration succeeded")
	}

	Logins.Inc()
	SharesRejected.WithLabelValues("Low diff share").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`cpuminer_logins_total{machine_id="host-a"}`,
		`cpuminer_results_rejected_total{machine_id="host-a",reason="Low diff share"}`,
		`cpuminer_pool_connected{machine_id="host-a"}`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestLoadOrCreateMachineID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	id, err := LoadOrCreateMachineID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 36 {
		t.Errorf("id = %q", id)
	}

	again, err := LoadOrCreateMachineID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("id changed across loads: %s != %s", again, id)
	}

	if err := os.WriteFile(filepath.Join(dir, machineIDFile), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateMachineID(dir); err == nil {
		t.Error("corrupt id accepted")
	}
}
