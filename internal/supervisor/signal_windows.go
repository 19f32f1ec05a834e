//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// groupAttr is a no-op on Windows; TerminateProcess acts on the single child.
func groupAttr(cmd *exec.Cmd) {}

// signalGroup approximates Unix group signaling. Windows has no SIGTERM
// delivery for unrelated processes, so both the graceful and forceful paths
// terminate the child directly.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	handle, _, err := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(uint32(pid)))
	if handle == 0 {
		// Process already gone; treat as delivered.
		_ = err
		return nil
	}
	defer func() { _, _, _ = procCloseHandle.Call(handle) }()
	ret, _, callErr := procTerminateProcess.Call(handle, uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

const (
	sigGraceful = syscall.Signal(15)
	sigForceful = syscall.Signal(9)
)
