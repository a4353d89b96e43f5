package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.mapview/logs/).
// Falls back to the temp directory if home is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mapview", "logs")
	}
	return filepath.Join(home, ".mapview", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "mapview.log")
}
