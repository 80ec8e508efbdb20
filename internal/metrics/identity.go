package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const machineIDFile = "machine-id"

// LoadOrCreateMachineID returns the id stored in dataDir, creating and
// persisting a random one on first use. The id stays stable across restarts
// so metrics from the same host line up.
func LoadOrCreateMachineID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, machineIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id, err := uuid.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return "", fmt.Errorf("parse machine id: %w", err)
		}
		return id.String(), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read machine id: %w", err)
	}

	id := uuid.New()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write machine id: %w", err)
	}
	return id.String(), nil
}
