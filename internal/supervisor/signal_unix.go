//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// groupAttr places the child in its own process group so termination signals
// reach the whole tree.
func groupAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the child's process group.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

const (
	sigGraceful = syscall.SIGTERM
	sigForceful = syscall.SIGKILL
)
