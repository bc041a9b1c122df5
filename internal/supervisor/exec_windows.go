// Copyright 2024 wpm authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build windows
// +build windows

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/windows"
)

// prepareSysProcAttr requests "no window" for the child console, per
// SPEC_FULL.md's "platforms with a console-creation flag" note.
func prepareSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
}

// signalProcess has no SIGTERM equivalent to offer on Windows: an interrupt
// is attempted first (console processes may honor it), then the process is
// forcibly terminated, mirroring the teacher runner's windows command path.
func signalProcess(proc *os.Process, sig Signal) error {
	if sig == SignalTERM {
		_ = proc.Signal(os.Interrupt)
	}
	if err := proc.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("kill process %d: %w", proc.Pid, err)
	}
	return nil
}

// signalPID terminates a bare PID discovered by a Process-with-target
// health check, for which no *os.Process handle exists.
func signalPID(pid int, sig Signal) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		if err == windows.ERROR_INVALID_PARAMETER {
			return nil
		}
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)
	if err := windows.TerminateProcess(h, 1); err != nil {
		return fmt.Errorf("terminate process %d: %w", pid, err)
	}
	return nil
}

// isAlreadyExited reports whether err from (*os.Process).Wait indicates the
// process had already exited and been cleaned up by an earlier call.
func isAlreadyExited(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
