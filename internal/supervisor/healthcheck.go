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
	"fmt"
	"io"
	"time"

	"github.com/wpmsh/wpm/internal/unit"
)

// runHealthcheck evaluates def's health check against a just-spawned
// process with PID ownPID, blocking for as long as the check's own delay
// and retry budget require. It returns the PID that should be considered
// "the" supervised process going forward: ownPID, unless this is a
// Process-with-target check, in which case it is the discovered PID of the
// matching process (the forked child, as opposed to the launcher that
// exited before this check ran).
func runHealthcheck(hc *unit.Healthcheck, ownPID int, def *unit.Definition, cacheRoot string, log io.Writer) (int, error) {
	if hc == nil {
		return ownPID, nil
	}
	switch {
	case hc.Command != nil:
		return ownPID, runCommandHealthcheck(hc.Command, def, cacheRoot, log)
	case hc.Process != nil && hc.Process.Target != "":
		time.Sleep(hc.Process.Delay())
		pid, err := findProcessByName(hc.Process.Target)
		if err != nil {
			return 0, fmt.Errorf("process healthcheck: %w", err)
		}
		return pid, nil
	case hc.Process != nil:
		time.Sleep(hc.Process.Delay())
		if !pidAlive(ownPID) {
			return 0, fmt.Errorf("process healthcheck: pid %d is not alive", ownPID)
		}
		return ownPID, nil
	default:
		return ownPID, nil
	}
}

// runCommandHealthcheck spawns hc's command up to Retries()+1 times,
// sleeping Delay() before every attempt. Any successful exit within the
// budget is a pass; retry_limit=0 means exactly one attempt.
func runCommandHealthcheck(hc *unit.CommandHealthcheck, def *unit.Definition, cacheRoot string, log io.Writer) error {
	var lastErr error
	attempts := hc.Retries() + 1
	for i := 0; i < attempts; i++ {
		time.Sleep(hc.Delay())
		cmd, err := buildCmd(hc.Command, def, cacheRoot, log)
		if err != nil {
			return fmt.Errorf("healthcheck command: %w", err)
		}
		if err := cmd.Run(); err != nil {
			lastErr = fmt.Errorf("healthcheck command exited non-zero: %w", err)
			continue
		}
		return nil
	}
	return lastErr
}
