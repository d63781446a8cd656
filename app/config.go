package app

import (
	"os"
	"path/filepath"
)

// Config carries the client settings collected from flags and environment.
type Config struct {
	RelayURL string
	DataDir  string
	LogLevel string
}

// DefaultDataDir returns the per-user data directory for the client.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".piggypost"
	}
	return filepath.Join(dir, "piggypost")
}
