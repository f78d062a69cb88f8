package supervisor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// prefsDir returns the companion's own config directory, using the
// same search order the teacher's viper setup applies for its config
// file: a user-level dir first, falling back to the current directory
// if the user config dir cannot be determined.
func prefsDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "meshcore-companion")
	}
	return "."
}

func activeDeviceFile() string {
	return filepath.Join(prefsDir(), "active_device")
}

// LoadActiveDeviceID reads the last-connected device id persisted by
// SaveActiveDeviceID, if any (spec.md §9: the Supervisor, not the CLI,
// owns which device is "active" across process restarts).
func LoadActiveDeviceID() (uuid.UUID, bool) {
	data, err := os.ReadFile(activeDeviceFile())
	if err != nil {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

// SaveActiveDeviceID persists id as the active device for future runs.
func SaveActiveDeviceID(id uuid.UUID) error {
	dir := prefsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(activeDeviceFile(), []byte(id.String()+"\n"), 0o644)
}
