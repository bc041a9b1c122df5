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

// Package supervisor implements the Supervisor Core: dependency-ordered
// start/stop/restart orchestration, the health-check engine, and the
// per-process monitor workers that enforce each unit's restart policy.
package supervisor

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/wpmsh/wpm/internal/proctable"
	"github.com/wpmsh/wpm/internal/registry"
	"github.com/wpmsh/wpm/internal/unit"
)

// RestartRequester posts the Reset-then-Start pair a monitor worker issues
// after a restart-policy-driven exit back through the Control Plane's
// single dispatch queue, so a monitor-triggered restart serializes with
// pending client-issued commands exactly like the "post to ProcessManager"
// pattern this design is modeled on (see SPEC_FULL.md §9).
type RestartRequester interface {
	RequestRestart(name string)
}

// Core is the Supervisor Core. All public operations serialize under mu,
// matching the single coarse lock the source holds around its
// ProcessManager for the duration of each control-plane message; monitor
// workers deliberately do not take this lock (see monitor.go).
type Core struct {
	mu sync.Mutex

	registry *registry.Registry
	table    *proctable.Table
	dataDir  string
	cacheDir string
	logger   *log.Logger

	restarter RestartRequester

	starting map[string]bool // cycle detection: names currently mid-Start
}

// New returns a Core backed by reg and table, writing unit logs under
// dataDir/logs and resolving artifacts under cacheDir.
func New(reg *registry.Registry, table *proctable.Table, dataDir, cacheDir string, logger *log.Logger) *Core {
	return &Core{
		registry: reg,
		table:    table,
		dataDir:  dataDir,
		cacheDir: cacheDir,
		logger:   logger,
		starting: make(map[string]bool),
	}
}

// SetRestarter wires in the Control Plane's restart queue. Until called,
// monitor-driven restarts fall back to calling Reset and Start directly,
// which is adequate for tests but skips the control-message queue the full
// daemon routes through.
func (c *Core) SetRestarter(r RestartRequester) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarter = r
}

// Start starts name and, recursively, any of its unsatisfied dependencies.
func (c *Core) Start(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(name, nil)
}

func (c *Core) startLocked(name string, chain []string) error {
	def, ok := c.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredUnit, name)
	}
	if _, running := c.table.GetRunning(name); running {
		return fmt.Errorf("%w: %s", ErrRunningUnit, name)
	}
	if c.table.StatusOf(name) == proctable.Completed {
		return fmt.Errorf("%w: %s", ErrCompletedUnit, name)
	}
	if c.starting[name] {
		return &CycleError{Name: name, Chain: chain}
	}

	c.table.ClearStoppedStates(name)

	c.starting[name] = true
	defer delete(c.starting, name)

	for _, dep := range def.Requires {
		if _, running := c.table.GetRunning(dep); running {
			continue
		}
		if err := c.startLocked(dep, append(append([]string(nil), chain...), name)); err != nil {
			return fmt.Errorf("starting dependency %q of %q: %w", dep, name, err)
		}
	}

	return c.launch(def)
}

// launch runs exec_start_pre, then spawns exec_start and its retries, per
// SPEC_FULL.md §4.E steps 5-9.
func (c *Core) launch(def *unit.Definition) error {
	logFile, err := openUnitLog(c.dataDir, def.Name)
	if err != nil {
		return err
	}
	defer logFile.Close()

	if err := runCommands(def.Service.ExecStartPre, def, c.cacheDir, logFile); err != nil {
		return fmt.Errorf("unit %q: exec_start_pre: %w", def.Name, err)
	}

	var lastErr error
	attempts := unit.DefaultRetryLimit + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Printf("unit %q: retrying start (attempt %d of %d): %v", def.Name, attempt+1, attempts, lastErr)
		}
		if err := c.attemptLaunch(def, logFile); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	var hcErr *FailedHealthcheckError
	if errors.As(lastErr, &hcErr) {
		hcErr.Retries = attempts
	}
	return lastErr
}

func (c *Core) attemptLaunch(def *unit.Definition, logFile *os.File) error {
	cmd, err := buildCmd(def.Service.ExecStart, def, c.cacheDir, logFile)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %q: %w", def.Name, err)
	}
	h := newProcessHandle(cmd.Process)

	switch def.Service.Kind {
	case unit.Oneshot:
		return c.finishOneshot(def, h, logFile)
	default: // Simple and Forking both proceed to health-check.
		if def.Service.Kind == unit.Forking {
			if success, err := h.waitForExit(); err != nil || !success {
				if err != nil {
					return fmt.Errorf("launcher for %q exited with error: %w", def.Name, err)
				}
				return fmt.Errorf("launcher for %q exited with a non-zero status", def.Name)
			}
		}
		return c.healthcheckAndEnterRunning(def, h, logFile)
	}
}

func (c *Core) finishOneshot(def *unit.Definition, h *handle, logFile *os.File) error {
	success, err := h.waitForExit()
	if err != nil {
		return fmt.Errorf("unit %q: oneshot wait: %w", def.Name, err)
	}
	if !success {
		return fmt.Errorf("unit %q: oneshot exited with a non-zero status", def.Name)
	}
	c.table.ClearStoppedStates(def.Name)
	c.table.InsertCompleted(def.Name, time.Now())
	if err := runCommands(def.Service.ExecStartPost, def, c.cacheDir, logFile); err != nil {
		c.logger.Printf("unit %q: exec_start_post: %v", def.Name, err)
	}
	if err := runCommands(def.Service.ExecStop, def, c.cacheDir, logFile); err != nil {
		c.logger.Printf("unit %q: exec_stop: %v", def.Name, err)
	}
	return nil
}

func (c *Core) healthcheckAndEnterRunning(def *unit.Definition, h *handle, logFile *os.File) error {
	discoveredPID, err := runHealthcheck(def.Service.Healthcheck, h.PID(), def, c.cacheDir, logFile)
	if err != nil {
		c.table.InsertFailed(def.Name, time.Now())
		return &FailedHealthcheckError{Name: def.Name, Last: err}
	}

	finalHandle := h
	if discoveredPID != h.PID() {
		finalHandle = newPIDHandle(discoveredPID)
	}

	c.table.ClearStoppedStates(def.Name)
	c.table.InsertRunning(def.Name, finalHandle, time.Now())
	c.startMonitor(def.Name, finalHandle)

	if err := runCommands(def.Service.ExecStartPost, def, c.cacheDir, logFile); err != nil {
		c.logger.Printf("unit %q: exec_start_post: %v", def.Name, err)
	}
	return nil
}

// Stop stops name.
func (c *Core) Stop(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(name)
}

func (c *Core) stopLocked(name string) error {
	def, ok := c.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredUnit, name)
	}

	entry, ok := c.table.RemoveRunning(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	logFile, logErr := openUnitLog(c.dataDir, name)
	if logErr == nil {
		defer logFile.Close()
		if err := runCommands(def.Service.ExecStop, def, c.cacheDir, logFile); err != nil {
			c.logger.Printf("unit %q: exec_stop: %v", name, err)
		}
	}

	h, _ := entry.Handle.(*handle)
	if err := h.signal(SignalTERM); err != nil {
		c.table.InsertRunning(name, entry.Handle, entry.StartedAt)
		return fmt.Errorf("signal %q: %w", name, err)
	}

	_, waitErr := h.waitForExit()
	if waitErr != nil {
		if isAlreadyExited(waitErr) {
			c.logger.Printf("unit %q: process already exited: %v", name, waitErr)
		} else {
			c.table.InsertRunning(name, entry.Handle, entry.StartedAt)
			return fmt.Errorf("wait for %q to exit: %w", name, waitErr)
		}
	}

	if logErr == nil {
		if err := runCommands(def.Service.ExecStopPost, def, c.cacheDir, logFile); err != nil {
			c.logger.Printf("unit %q: exec_stop_post: %v", name, err)
		}
	}

	if def.Service.Restart == unit.Always {
		delay := def.Service.RestartDelay()
		go func() {
			time.Sleep(delay)
			if c.restarter != nil {
				c.restarter.RequestRestart(name)
				return
			}
			if err := c.Start(name); err != nil {
				c.logger.Printf("unit %q: restart after stop failed: %v", name, err)
			}
		}()
	}

	return nil
}

// Restart stops name (tolerating NotRunning) then starts it.
func (c *Core) Restart(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stopLocked(name); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return c.startLocked(name, nil)
}

// Reset clears name from Completed, Failed, and Terminated. Running is
// unaffected.
func (c *Core) Reset(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table.ClearStoppedStates(name)
}

// Shutdown stops every currently Running unit, snapshotting the name list
// first so stops triggered by this call don't feed back into its own
// iteration.
func (c *Core) Shutdown() {
	c.mu.Lock()
	names := c.registry.Names()
	var running []string
	for _, name := range names {
		if _, ok := c.table.GetRunning(name); ok {
			running = append(running, name)
		}
	}
	c.mu.Unlock()

	for _, name := range running {
		if err := c.Stop(name); err != nil {
			c.logger.Printf("unit %q: stop during shutdown: %v", name, err)
		}
	}
}

// State returns a snapshot of every registered unit's current status.
func (c *Core) State() []proctable.UnitSnapshot {
	names := c.registry.Names()
	return c.table.Snapshot(names)
}

// Autostart starts every registered unit with Autostart set, logging (but
// not halting on) individual Start failures.
func (c *Core) Autostart() {
	c.mu.Lock()
	names := c.registry.Names()
	c.mu.Unlock()

	for _, name := range names {
		def, ok := c.registry.Get(name)
		if !ok || !def.Service.Autostart {
			continue
		}
		if err := c.Start(name); err != nil {
			c.logger.Printf("autostart %q: %v", name, err)
		}
	}
}
