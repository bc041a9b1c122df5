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

//go:build !windows
// +build !windows

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// prepareSysProcAttr puts the child in its own process group, so a Stop can
// signal the whole group (the child plus anything it forked) instead of
// just the direct descendant. Mirrors the teacher runner's own command()
// setup.
func prepareSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func osSignal(sig Signal) syscall.Signal {
	if sig == SignalKILL {
		return syscall.SIGKILL
	}
	return syscall.SIGTERM
}

// signalProcess signals both the direct child and its process group. Group
// delivery reaches grandchildren a Forking service's launcher may have
// spawned; the direct signal covers the case where Setpgid failed to take
// effect (e.g. the child already called setsid()).
func signalProcess(proc *os.Process, sig Signal) error {
	s := osSignal(sig)
	if err := proc.Signal(s); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("signal process %d: %w", proc.Pid, err)
	}
	if err := syscall.Kill(-proc.Pid, s); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signal process group %d: %w", proc.Pid, err)
	}
	return nil
}

// signalPID signals a bare PID discovered by a Process-with-target health
// check, for which no *os.Process (and therefore no parent/child
// relationship) exists.
func signalPID(pid int, sig Signal) error {
	if err := syscall.Kill(pid, osSignal(sig)); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}

// isAlreadyExited reports whether err from (*os.Process).Wait indicates the
// process had already been reaped by an earlier call, rather than some
// other failure.
func isAlreadyExited(err error) bool {
	return errors.Is(err, syscall.ECHILD)
}
