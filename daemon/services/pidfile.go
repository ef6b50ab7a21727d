package services

import (
	"fmt"
	"os"

	"github.com/vhostmd/vhostmd-go/daemon/logger"
)

// WritePIDFile creates path exclusively and writes the running process's
// pid to it, mirroring the original daemon's O_CREAT|O_EXCL lock: the
// file's existence is the single-instance guard, there is no separate
// flock. An empty path is a no-op.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("pid file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("pid file %s: %w", path, err)
	}
	return nil
}

// RemovePIDFile unlinks path, ignoring a missing file. Called unconditionally
// during shutdown once a pid file has been written, matching the original's
// unconditional unlink() in its cleanup path.
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warning("pid file %s: %v", path, err)
	}
}
