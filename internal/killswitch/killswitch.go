// Package killswitch gates destructive execution behind a single file.
// While the file exists, no new rollback may begin mutating state;
// sessions abort before the executor stage with a recorded warning.
// The switch never interrupts an execution already in progress — after
// the executor starts, the only recovery path is the backup snapshot.
package killswitch

import (
	"os"
	"path/filepath"
)

type Switch struct {
	path string
}

func New(path string) *Switch {
	return &Switch{path: path}
}

func (s *Switch) Path() string {
	return s.path
}

// IsActive reports whether the switch file exists.
func (s *Switch) IsActive() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Activate writes the switch file with the given reason.
func (s *Switch) Activate(reason string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(reason), 0644)
}

// Reason returns the text recorded at activation, if any.
func (s *Switch) Reason() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Clear removes the switch file. Clearing an inactive switch is a no-op.
func (s *Switch) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
