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
	"context"
	"time"

	oversight "cirello.io/oversight/easy"

	"github.com/wpmsh/wpm/internal/unit"
)

// startMonitor launches the one-per-running-process worker that waits on h
// and then applies the restart policy matrix. It is spawned through
// cirello.io/oversight with RestartWith(Temporary), so oversight itself
// never relaunches the monitor function on return — restart decisions are
// this package's own, driven by each unit's declared Restart policy, not by
// the supervision tree's.
func (c *Core) startMonitor(name string, h *handle) {
	ctx := oversight.WithContext(context.Background())
	oversight.Add(ctx, func(context.Context) error {
		c.monitor(name, h)
		return nil
	}, oversight.RestartWith(oversight.Temporary()))
}

// monitor deliberately does not take Core's coarse lock: SPEC_FULL.md has
// monitor workers touch only the process table (each map independently
// locked), the unit's log file, and the control-plane send path, so they
// never block on — or are blocked by — client-issued commands.
func (c *Core) monitor(name string, h *handle) {
	success, waitErr := h.waitForExit()
	if waitErr != nil {
		c.logger.Printf("unit %q: monitor wait error: %v", name, waitErr)
	}

	def, ok := c.registry.Get(name)
	if !ok {
		c.table.RemoveRunning(name)
		return
	}

	if logFile, err := openUnitLog(c.dataDir, name); err == nil {
		if err := runCommands(def.Service.ExecStopPost, def, c.cacheDir, logFile); err != nil {
			c.logger.Printf("unit %q: exec_stop_post: %v", name, err)
		}
		logFile.Close()
	}

	if _, stillRunning := c.table.GetRunning(name); !stillRunning {
		// An explicit Stop already removed this name from Running; that
		// path owns the transition, this monitor has nothing left to do.
		return
	}

	shouldRestart := false
	switch def.Service.Restart {
	case unit.Always:
		shouldRestart = true
	case unit.OnFailure:
		shouldRestart = !success
	}

	c.table.RemoveRunning(name)

	if shouldRestart {
		delay := def.Service.RestartDelay()
		go func() {
			time.Sleep(delay)
			if c.restarter != nil {
				c.restarter.RequestRestart(name)
				return
			}
			c.Reset(name)
			if err := c.Start(name); err != nil {
				c.logger.Printf("unit %q: restart failed: %v", name, err)
			}
		}()
		return
	}

	c.table.InsertTerminated(name, time.Now())
}
