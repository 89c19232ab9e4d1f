// Package askstream holds application-wide defaults shared by the config,
// db and cmd packages.
package askstream

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "askstream"

	DefaultBaseURL     = "http://localhost:8000"
	DefaultChatPath    = "/api/chat/"
	DefaultHistoryPath = "/api/history/"

	DefaultDatabaseDriver = "libsql"
	DefaultDevServerAddr  = "127.0.0.1:8765"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDatabaseDir = filepath.Join(userDataDir(), DefaultAppName)
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, "turns.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
