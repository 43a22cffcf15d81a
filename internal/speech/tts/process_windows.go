//go:build windows

package tts

import (
	"errors"
	"os/exec"
)

// errPauseUnsupported is returned because Windows has no SIGSTOP/SIGCONT
// equivalent for a console process
var errPauseUnsupported = errors.New("pausing a speech process is not supported on Windows")

func pauseProcess(cmd *exec.Cmd) error {
	return errPauseUnsupported
}

func resumeProcess(cmd *exec.Cmd) error {
	return errPauseUnsupported
}
