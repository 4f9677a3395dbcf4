//go:build unix

package process

import (
	"os"
	"syscall"
)

// sysProcAttr puts the child in its own process group so it is detached
// from our controlling terminal and can be signalled as a group.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminate sends SIGTERM to the child's process group.
func terminate(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return p.Signal(syscall.SIGTERM)
	}
	return nil
}
