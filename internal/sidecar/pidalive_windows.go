//go:build windows

package sidecar

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

const (
	processTerminate = 0x0001
	processQueryInfo = 0x0400
)

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, _, _ := procOpenProcess.Call(uintptr(processQueryInfo), 0, uintptr(uint32(pid)))
	if handle == 0 {
		return false
	}
	_, _, _ = procCloseHandle.Call(handle)
	return true
}

func groupAttr(cmd *exec.Cmd) {}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	handle, _, _ := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(uint32(pid)))
	if handle == 0 {
		return nil
	}
	defer func() { _, _, _ = procCloseHandle.Call(handle) }()
	ret, _, err := procTerminateProcess.Call(handle, uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}

const (
	sigGraceful = syscall.Signal(15)
	sigForceful = syscall.Signal(9)
)
