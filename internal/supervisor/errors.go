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
	"errors"
	"fmt"
)

// Lifecycle violation sentinels, returned to the control-plane caller per
// the error taxonomy: these carry no data, so a plain sentinel is enough to
// match with errors.Is.
var (
	ErrUnregisteredUnit = errors.New("unit is not registered")
	ErrRunningUnit       = errors.New("unit is already running")
	ErrCompletedUnit     = errors.New("unit already completed")
	ErrNotRunning        = errors.New("unit is not running")
)

// CycleError reports that starting name would recurse through a dependency
// cycle. The source never detects this and recurses indefinitely; this
// implementation fails the Start instead, per SPEC_FULL.md's design note on
// cyclic dependency graphs.
type CycleError struct {
	Name  string
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle starting %q: %v", e.Name, append(e.Chain, e.Name))
}

// FailedHealthcheckError reports that a unit exhausted its start retry
// budget without a passing health check.
type FailedHealthcheckError struct {
	Name    string
	Retries int
	Last    error
}

func (e *FailedHealthcheckError) Error() string {
	return fmt.Sprintf("unit %q failed health check after %d attempt(s): %v", e.Name, e.Retries, e.Last)
}

func (e *FailedHealthcheckError) Unwrap() error { return e.Last }
