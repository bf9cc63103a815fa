// Package axion holds application-wide defaults shared by the config layer and the CLI.
package axion

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "axion"

	// DefaultSnapshotBackend selects where cache snapshots are written.
	DefaultSnapshotBackend = "file"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultCacheDir    = filepath.Join(userCacheDir(), DefaultAppName)
	DefaultSnapshotDir = filepath.Join(DefaultCacheDir, "snapshots")
	DefaultDatabaseDSN = filepath.Join(DefaultCacheDir, DefaultAppName+".db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return filepath.Join(os.TempDir(), ".config")
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return filepath.Join(os.TempDir(), ".cache")
}
