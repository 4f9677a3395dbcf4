//go:build !unix

package process

import (
	"os"
	"syscall"
)

// sysProcAttr returns default attributes. Process groups are a unix
// concept; elsewhere the child is simply not attached to stdin.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// terminate kills the child. There is no portable graceful signal here.
func terminate(p *os.Process) error {
	return p.Kill()
}
