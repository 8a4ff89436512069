//go:build unix

package sandbox

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// killGroup sends SIGKILL to the child's whole process group, falling back
// to the child alone if the group is already gone.
func killGroup(p *os.Process) error {
	// Negative PID addresses the process group.
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if err == nil || !errors.Is(err, unix.ESRCH) {
		return err
	}
	return p.Kill()
}

// raise delivers sig to the current process.
func raise(sig syscall.Signal) error {
	return unix.Kill(unix.Getpid(), sig)
}
