package services

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"

	"github.com/vhostmd/vhostmd-go/daemon/logger"
)

// DropPrivileges switches the process to username's uid/gid once the
// privileged setup (opening the metrics disk, reading the configuration
// file) is done, before the tick loop starts and before the admin listener
// binds. An empty username is a no-op.
//
// Go's setuid/setgid syscalls apply per-OS-thread rather than
// process-wide, so the plain syscall.Setuid/Setgid pair the C daemon uses
// would leave other goroutines' threads running as root; AllThreadsSetuid
// and AllThreadsSetgid (Linux-only) apply the change across every thread
// in the process instead. There is no AllThreadsSetgroups, so the
// supplementary group list is set with the regular (current-thread-only)
// syscall.Setgroups before the uid/gid switch; this is a known gap
// against the original's initgroups() call, recorded in DESIGN.md.
func DropPrivileges(username string) error {
	if username == "" {
		return nil
	}

	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("user %q has non-numeric uid %q", username, u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("user %q has non-numeric gid %q", username, u.Gid)
	}
	if uid == 0 || gid == 0 {
		return fmt.Errorf("cannot switch to root using the -u flag")
	}

	if groupIDs, err := u.GroupIds(); err == nil {
		gids := make([]int, 0, len(groupIDs))
		for _, g := range groupIDs {
			if n, err := strconv.Atoi(g); err == nil {
				gids = append(gids, n)
			}
		}
		if err := syscall.Setgroups(gids); err != nil {
			return fmt.Errorf("setgroups: %w", err)
		}
	}

	if err := syscall.AllThreadsSetgid(gid); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := syscall.AllThreadsSetuid(uid); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}

	logger.Info("switched to uid:gid %d:%d", uid, gid)
	return nil
}
