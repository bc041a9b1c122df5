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

// Package proctable holds the four disjoint unit-lifecycle maps — Running,
// Completed, Failed, and Terminated — that the Supervisor Core and its
// monitor workers read and update.
package proctable

import (
	"sort"
	"sync"
	"time"
)

// Handle is the minimal view of a supervised process the table needs to
// report a PID back in a Status/State snapshot. Concrete handles live in
// package supervisor, which is platform-specific; proctable stays agnostic
// to how a handle signals or waits.
type Handle interface {
	PID() int
}

// Status is a unit's current position in the lifecycle state machine.
type Status int

// Lifecycle statuses. Stopped is the implicit zero value: a name absent
// from all four maps.
const (
	Stopped Status = iota
	Running
	Completed
	Failed
	Terminated
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Terminated:
		return "Terminated"
	default:
		return "Stopped"
	}
}

// RunningEntry records a live, health-checked process.
type RunningEntry struct {
	Handle    Handle
	StartedAt time.Time
}

// TimestampEntry records the instant a unit entered Completed, Failed, or
// Terminated.
type TimestampEntry struct {
	At time.Time
}

// Table is the concurrency-safe holder of the four lifecycle maps. Each map
// has its own mutex; transitions that touch more than one acquire locks in
// the fixed order Running, Completed, Failed, Terminated, matching
// SPEC_FULL.md's documented acquisition order so two goroutines performing
// cross-map moves can never deadlock against each other.
type Table struct {
	runningMu sync.Mutex
	running   map[string]RunningEntry

	completedMu sync.Mutex
	completed   map[string]TimestampEntry

	failedMu sync.Mutex
	failed   map[string]TimestampEntry

	terminatedMu sync.Mutex
	terminated   map[string]TimestampEntry
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		running:    make(map[string]RunningEntry),
		completed:  make(map[string]TimestampEntry),
		failed:     make(map[string]TimestampEntry),
		terminated: make(map[string]TimestampEntry),
	}
}

// GetRunning returns the Running entry for name, if any.
func (t *Table) GetRunning(name string) (RunningEntry, bool) {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()
	e, ok := t.running[name]
	return e, ok
}

// InsertRunning adds or replaces name's Running entry. Callers are
// responsible for having already cleared name from the other three maps,
// per invariant 1 (a name occupies at most one map).
func (t *Table) InsertRunning(name string, h Handle, startedAt time.Time) {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()
	t.running[name] = RunningEntry{Handle: h, StartedAt: startedAt}
}

// RemoveRunning deletes name from Running, returning the entry that was
// present, if any.
func (t *Table) RemoveRunning(name string) (RunningEntry, bool) {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()
	e, ok := t.running[name]
	delete(t.running, name)
	return e, ok
}

// InsertCompleted records name's successful Oneshot exit.
func (t *Table) InsertCompleted(name string, at time.Time) {
	t.completedMu.Lock()
	defer t.completedMu.Unlock()
	t.completed[name] = TimestampEntry{At: at}
}

// InsertFailed records a health-check failure for name.
func (t *Table) InsertFailed(name string, at time.Time) {
	t.failedMu.Lock()
	defer t.failedMu.Unlock()
	t.failed[name] = TimestampEntry{At: at}
}

// InsertTerminated records a no-restart exit for name.
func (t *Table) InsertTerminated(name string, at time.Time) {
	t.terminatedMu.Lock()
	defer t.terminatedMu.Unlock()
	t.terminated[name] = TimestampEntry{At: at}
}

// ClearStoppedStates removes name from Completed, Failed, and Terminated,
// leaving Running untouched. Start calls this before attempting to
// (re-)launch a unit; Reset calls this directly.
func (t *Table) ClearStoppedStates(name string) {
	t.completedMu.Lock()
	delete(t.completed, name)
	t.completedMu.Unlock()

	t.failedMu.Lock()
	delete(t.failed, name)
	t.failedMu.Unlock()

	t.terminatedMu.Lock()
	delete(t.terminated, name)
	t.terminatedMu.Unlock()
}

// StatusOf reports which of the four maps name currently occupies, or
// Stopped if it is in none of them. Locks are taken in the fixed order
// Running, Completed, Failed, Terminated even though only one lookup can
// match, keeping every multi-map traversal in this package consistent.
func (t *Table) StatusOf(name string) Status {
	if _, ok := t.GetRunning(name); ok {
		return Running
	}
	t.completedMu.Lock()
	_, completed := t.completed[name]
	t.completedMu.Unlock()
	if completed {
		return Completed
	}
	t.failedMu.Lock()
	_, failed := t.failed[name]
	t.failedMu.Unlock()
	if failed {
		return Failed
	}
	t.terminatedMu.Lock()
	_, terminated := t.terminated[name]
	t.terminatedMu.Unlock()
	if terminated {
		return Terminated
	}
	return Stopped
}

// UnitSnapshot is one unit's state() row: its status, PID if Running, and
// the timestamp it entered that state, if applicable.
type UnitSnapshot struct {
	Name   string
	Status Status
	PID    int
	Since  time.Time
}

// Snapshot returns a consistent-enough view of every name in names,
// annotated with its current status. Intended for the Supervisor Core's
// state() operation, which supplies the full registry's name list.
func (t *Table) Snapshot(names []string) []UnitSnapshot {
	out := make([]UnitSnapshot, 0, len(names))
	for _, name := range names {
		snap := UnitSnapshot{Name: name}
		if e, ok := t.GetRunning(name); ok {
			snap.Status = Running
			snap.PID = e.Handle.PID()
			snap.Since = e.StartedAt
			out = append(out, snap)
			continue
		}
		t.completedMu.Lock()
		c, completed := t.completed[name]
		t.completedMu.Unlock()
		if completed {
			snap.Status = Completed
			snap.Since = c.At
			out = append(out, snap)
			continue
		}
		t.failedMu.Lock()
		f, failed := t.failed[name]
		t.failedMu.Unlock()
		if failed {
			snap.Status = Failed
			snap.Since = f.At
			out = append(out, snap)
			continue
		}
		t.terminatedMu.Lock()
		term, terminated := t.terminated[name]
		t.terminatedMu.Unlock()
		if terminated {
			snap.Status = Terminated
			snap.Since = term.At
			out = append(out, snap)
			continue
		}
		snap.Status = Stopped
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
