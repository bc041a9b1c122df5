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

package supervisor

import (
	"os"
)

// handle is the supervisor's view of a supervised process. For Simple and
// Forking units spawned directly, it wraps the *os.Process returned by
// exec.Cmd. For a Forking unit whose health check discovers a target
// binary's PID, it instead wraps a bare PID with no *os.Process (the
// launcher that spawned it already exited, so the OS gives us no parent/
// child relationship to wait on); such a handle polls liveness instead.
type handle struct {
	proc *os.Process
	pid  int
}

func newProcessHandle(proc *os.Process) *handle {
	return &handle{proc: proc, pid: proc.Pid}
}

func newPIDHandle(pid int) *handle {
	return &handle{pid: pid}
}

// PID implements proctable.Handle.
func (h *handle) PID() int { return h.pid }

// signal delivers sig to the process (and, on POSIX, its process group) if
// this handle wraps an *os.Process the supervisor itself spawned; a
// discovered (pid-only) handle instead sends the signal to the bare PID.
func (h *handle) signal(sig Signal) error {
	if h.proc != nil {
		return signalProcess(h.proc, sig)
	}
	return signalPID(h.pid, sig)
}

// waitForExit blocks until the process exits. For a handle wrapping an
// *os.Process, err mirrors (*os.Process).Wait: non-nil only when the wait
// itself failed, for example because the process was already reaped by an
// earlier call — the "NotFound" case SPEC_FULL.md's Stop algorithm treats
// as a successful stop. success reports whether the child's own exit was
// clean; it is only meaningful when err is nil. A pid-only handle has no
// wait() to call, so it polls for disappearance instead and reports
// success as false: no exit status is observable once a process is merely
// discovered rather than spawned.
func (h *handle) waitForExit() (success bool, err error) {
	if h.proc != nil {
		state, werr := h.proc.Wait()
		if werr != nil {
			return false, werr
		}
		return state.Success(), nil
	}
	waitUntilExit(h.pid)
	return false, nil
}

// Signal is a portable liveness/termination request, translated to the
// platform-appropriate OS primitive in exec_unix.go / exec_windows.go.
type Signal int

// Supported signals.
const (
	SignalTERM Signal = iota
	SignalKILL
)
