//go:build unix

package tts

import (
	"os/exec"
	"syscall"
)

// pauseProcess stops a speech process on Unix systems
func pauseProcess(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGSTOP)
}

// resumeProcess continues a stopped speech process on Unix systems
func resumeProcess(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGCONT)
}
