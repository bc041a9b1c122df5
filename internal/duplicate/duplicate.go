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

// Package duplicate implements the startup check that refuses to bind the
// control-plane listener if another instance of this daemon is already
// running.
package duplicate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Error reports that one or more other processes share this daemon's
// executable name.
type Error struct {
	ExecutableName string
	OtherPIDs      []int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("duplicate supervisor detected: %d other process(es) named %q are already running (pids %v)",
		len(e.OtherPIDs), e.ExecutableName, e.OtherPIDs)
}

// shimSuffixes names the wrapper executables that commonly re-exec this
// binary under a different PID without being a second supervisor instance
// — a `go run` build cache shim, for example. Their exe path contains one
// of these as a path component rather than as the final binary name, so
// matching on the OS-reported process name alone already excludes them;
// this list exists for the rarer case where the shim happens to be named
// identically after stripping a platform suffix.
var shimSuffixes = []string{"-shim", ".shim"}

// Check enumerates running processes and returns *Error if any process
// other than the caller's own PID has an executable name matching the
// currently running binary's own name. selfPID is normally os.Getpid();
// it is a parameter so tests can simulate a clash without actually running
// a second copy of the daemon.
func Check(selfPID int32) error {
	selfExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}
	selfName := filepath.Base(selfExe)

	procs, err := process.Processes()
	if err != nil {
		return fmt.Errorf("enumerate processes: %w", err)
	}

	var others []int32
	for _, p := range procs {
		if p.Pid == selfPID {
			continue
		}
		name, err := p.Name()
		if err != nil {
			continue
		}
		if !matchesSelf(name, selfName) {
			continue
		}
		if isShim(name) {
			continue
		}
		others = append(others, p.Pid)
	}

	if len(others) > 0 {
		return &Error{ExecutableName: selfName, OtherPIDs: others}
	}
	return nil
}

func matchesSelf(candidate, selfName string) bool {
	candidate = strings.TrimSuffix(candidate, ".exe")
	selfName = strings.TrimSuffix(selfName, ".exe")
	return candidate == selfName
}

func isShim(name string) bool {
	for _, suffix := range shimSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
