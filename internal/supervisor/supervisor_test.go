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
	"bytes"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/wpmsh/wpm/internal/proctable"
	"github.com/wpmsh/wpm/internal/registry"
	"github.com/wpmsh/wpm/internal/unit"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	return New(registry.New(), proctable.New(), t.TempDir(), t.TempDir(), log.New(io.Discard, "", 0))
}

func shCommand(script string) unit.Command {
	return unit.Command{Local: "/bin/sh", Args: []string{"-c", script}}
}

func secPtr(v float64) *float64 { return &v }
func intPtr(v int) *int         { return &v }

func simpleDef(name string, requires ...string) *unit.Definition {
	return &unit.Definition{
		Name:     name,
		Requires: requires,
		Service: unit.Service{
			Kind:      unit.Simple,
			ExecStart: shCommand("sleep 30"),
			Healthcheck: &unit.Healthcheck{
				Process: &unit.ProcessHealthcheck{DelaySec: secPtr(0.05)},
			},
		},
	}
}

func TestStartUnregisteredUnit(t *testing.T) {
	c := newTestCore(t)
	err := c.Start("ghost")
	if !errors.Is(err, ErrUnregisteredUnit) {
		t.Fatalf("expected ErrUnregisteredUnit, got %v", err)
	}
}

func TestStartSimpleUnitEntersRunning(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(simpleDef("alpha"))

	if err := c.Start("alpha"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop("alpha")

	entry, ok := c.table.GetRunning("alpha")
	if !ok {
		t.Fatal("expected alpha to be Running")
	}
	if entry.Handle.PID() <= 0 {
		t.Fatalf("expected a positive PID, got %d", entry.Handle.PID())
	}
}

func TestStartTwiceReturnsRunningUnitError(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(simpleDef("alpha"))

	if err := c.Start("alpha"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop("alpha")

	err := c.Start("alpha")
	if !errors.Is(err, ErrRunningUnit) {
		t.Fatalf("expected ErrRunningUnit, got %v", err)
	}
}

func TestStopThenStatusIsStopped(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(simpleDef("alpha"))

	if err := c.Start("alpha"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop("alpha"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := c.table.StatusOf("alpha"); got != proctable.Stopped {
		t.Fatalf("expected Stopped, got %v", got)
	}
}

func TestStopNotRunning(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(simpleDef("alpha"))

	err := c.Stop("alpha")
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestDependencyChainStartsAllThree(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(simpleDef("a"))
	c.registry.Insert(simpleDef("b", "a"))
	c.registry.Insert(simpleDef("c", "b"))

	if err := c.Start("c"); err != nil {
		t.Fatalf("Start c: %v", err)
	}
	defer c.Stop("c")
	defer c.Stop("b")
	defer c.Stop("a")

	for _, name := range []string{"a", "b", "c"} {
		if _, ok := c.table.GetRunning(name); !ok {
			t.Fatalf("expected %q to be Running", name)
		}
	}
}

func TestStartDetectsCycle(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(simpleDef("a", "b"))
	c.registry.Insert(simpleDef("b", "a"))

	err := c.Start("a")
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
}

func TestOneshotCompletion(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(&unit.Definition{
		Name: "beta",
		Service: unit.Service{
			Kind:      unit.Oneshot,
			ExecStart: shCommand("echo hi"),
		},
	})

	if err := c.Start("beta"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.table.StatusOf("beta"); got != proctable.Completed {
		t.Fatalf("expected Completed, got %v", got)
	}

	err := c.Start("beta")
	if !errors.Is(err, ErrCompletedUnit) {
		t.Fatalf("expected ErrCompletedUnit, got %v", err)
	}

	c.Reset("beta")
	if err := c.Start("beta"); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
	if got := c.table.StatusOf("beta"); got != proctable.Completed {
		t.Fatalf("expected Completed again, got %v", got)
	}
}

func TestFailedHealthcheckInsertsFailed(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(&unit.Definition{
		Name: "gamma",
		Service: unit.Service{
			Kind:      unit.Simple,
			ExecStart: shCommand("sleep 1"),
			Healthcheck: &unit.Healthcheck{
				Command: &unit.CommandHealthcheck{
					Command:    shCommand("false"),
					DelaySec:   secPtr(0.01),
					RetryLimit: intPtr(1),
				},
			},
		},
	})

	err := c.Start("gamma")
	var hcErr *FailedHealthcheckError
	if !errors.As(err, &hcErr) {
		t.Fatalf("expected *FailedHealthcheckError, got %T: %v", err, err)
	}
	if got := c.table.StatusOf("gamma"); got != proctable.Failed {
		t.Fatalf("expected Failed, got %v", got)
	}
}

// TestRestartOnFailureHonorsZeroDelay exercises the explicit-zero boundary
// case directly: a Process healthcheck delay=0 must be honored as declared,
// not coerced to the 1s default, and a unit with restart=OnFailure that
// exits nonzero must be relaunched by the monitor after restart_sec.
func TestRestartOnFailureHonorsZeroDelay(t *testing.T) {
	var logBuf bytes.Buffer
	c := New(registry.New(), proctable.New(), t.TempDir(), t.TempDir(), log.New(&logBuf, "", 0))

	name := "delta"
	c.registry.Insert(&unit.Definition{
		Name: name,
		Service: unit.Service{
			Kind:       unit.Simple,
			ExecStart:  shCommand("exit 1"),
			Restart:    unit.OnFailure,
			RestartSec: 0.05,
			Healthcheck: &unit.Healthcheck{
				Process: &unit.ProcessHealthcheck{DelaySec: secPtr(0)},
			},
		},
	})

	if err := c.Start(name); err != nil {
		t.Fatalf("Start: %v", err)
	}

	restarts := 0
	wasRunning := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && restarts < 2 {
		if _, running := c.table.GetRunning(name); running {
			wasRunning = true
		} else if wasRunning {
			restarts++
			wasRunning = false
		}
		time.Sleep(10 * time.Millisecond)
	}
	if restarts < 2 {
		t.Fatalf("expected 2 restart cycles within 5s, observed %d; log:\n%s", restarts, logBuf.String())
	}

	// Stop further restarts from leaking past the test: once the definition
	// is gone, monitor's registry lookup fails and it drops the unit instead
	// of re-enqueuing another Start.
	c.registry.Remove(name)
}

func TestResetClearsFailedAndTerminated(t *testing.T) {
	c := newTestCore(t)
	c.table.InsertFailed("x", time.Now())
	c.table.InsertTerminated("y", time.Now())

	c.Reset("x")
	c.Reset("y")

	if got := c.table.StatusOf("x"); got != proctable.Stopped {
		t.Fatalf("expected x Stopped, got %v", got)
	}
	if got := c.table.StatusOf("y"); got != proctable.Stopped {
		t.Fatalf("expected y Stopped, got %v", got)
	}
}

func TestStateListsRegisteredUnits(t *testing.T) {
	c := newTestCore(t)
	c.registry.Insert(simpleDef("alpha"))
	c.registry.Insert(simpleDef("zeta"))

	if err := c.Start("alpha"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop("alpha")

	snap := c.State()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Name != "alpha" || snap[0].Status != proctable.Running {
		t.Fatalf("unexpected alpha snapshot: %+v", snap[0])
	}
	if snap[1].Name != "zeta" || snap[1].Status != proctable.Stopped {
		t.Fatalf("unexpected zeta snapshot: %+v", snap[1])
	}
}
