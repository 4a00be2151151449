package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.dialogsync.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dialogsync")
}

// Dir returns the account-specific directory.
func Dir(account string) string {
	return filepath.Join(BaseDir(), "accounts", account)
}

// CacheDBPath returns the dialog cache mirror path for an account.
func CacheDBPath(account string) string {
	return filepath.Join(Dir(account), "cache.db")
}

// LockPath returns the lock file path for an account.
func LockPath(account string) string {
	return filepath.Join(Dir(account), "LOCK")
}

// LogDir returns the log directory for an account.
func LogDir(account string) string {
	return filepath.Join(Dir(account), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(account string) string {
	return filepath.Join(LogDir(account), "dialogsyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the account directory tree with proper permissions.
func EnsureDir(account string) error {
	dirs := []string{
		Dir(account),
		LogDir(account),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
