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

// Package unit holds the declarative service definition data model: the
// shape of a unit file on disk (JSON or TOML), and its normalized,
// immutable-after-load in-memory form.
package unit

import (
	"strings"
	"time"
)

// ServiceKind is the execution model of a unit's primary command.
type ServiceKind string

// Service kinds.
const (
	Simple  ServiceKind = "Simple"
	Oneshot ServiceKind = "Oneshot"
	Forking ServiceKind = "Forking"
)

// RestartPolicy controls whether a unit is restarted after its process
// exits or is stopped.
type RestartPolicy string

// Restart policies.
const (
	Never     RestartPolicy = "Never"
	Always    RestartPolicy = "Always"
	OnFailure RestartPolicy = "OnFailure"
)

// ParseRestartPolicy takes a string and converts it to a RestartPolicy. If
// the parsing fails, it defaults to Never, mirroring the permissive parsing
// style used for process-type restart modes in the runner this package was
// adapted from.
func ParseRestartPolicy(s string) RestartPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always", "yes":
		return Always
	case "onfailure", "on-failure", "on_failure", "fail":
		return OnFailure
	default:
		return Never
	}
}

// DefaultRestartSec is the delay before a restart-eligible unit is
// relaunched when no RestartSec is declared.
const DefaultRestartSec = time.Second

// DefaultHealthcheckDelay is the delay used by a Process healthcheck with no
// declared delay.
const DefaultHealthcheckDelay = time.Second

// DefaultRetryLimit bounds the number of extra Command health-check attempts
// when no RetryLimit is declared, and always bounds the number of extra Start
// attempts, which no unit file can configure.
const DefaultRetryLimit = 5

// EnvVar is a single, ordered environment variable assignment. Declared as a
// struct slice element (rather than a map) so that load order and duplicate
// keys survive serialization round-trips, the same tradeoff the teacher
// runner makes by keeping Environment as an ordered []string of "K=V" pairs.
type EnvVar struct {
	Key   string `json:"Key" toml:"Key"`
	Value string `json:"Value" toml:"Value"`
}

// Strings renders env as the ordered "KEY=VALUE" pairs exec.Cmd expects.
func Strings(env []EnvVar) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		out = append(out, e.Key+"="+e.Value)
	}
	return out
}

// ExecutableKind distinguishes how a Command's executable is located.
type ExecutableKind int

// Executable kinds.
const (
	ExecutableLocal ExecutableKind = iota
	ExecutableRemote
	ExecutablePackaged
)

// RemoteExecutable is a command executable fetched from a URL and verified
// against an expected SHA-256 digest before first use.
type RemoteExecutable struct {
	URL  string `json:"URL" toml:"URL"`
	Hash string `json:"Hash" toml:"Hash"`
}

// PackagedExecutable is a command executable lazily installed through an
// external package manager.
type PackagedExecutable struct {
	ManifestURL string `json:"ManifestURL" toml:"ManifestURL"`
	Package     string `json:"Package" toml:"Package"`
	Version     string `json:"Version" toml:"Version"`
	Target      string `json:"Target,omitempty" toml:"Target,omitempty"`
}

// Command is an executable reference plus its arguments and per-command
// environment. One of Local, Remote, or Packaged names the executable; the
// loader does not check that only one is set, and when several are, Kind
// picks Remote first, then Packaged, then Local.
type Command struct {
	Local    string               `json:"Local,omitempty" toml:"Local,omitempty"`
	Remote   *RemoteExecutable    `json:"Remote,omitempty" toml:"Remote,omitempty"`
	Packaged *PackagedExecutable  `json:"Packaged,omitempty" toml:"Packaged,omitempty"`
	Args     []string             `json:"Args,omitempty" toml:"Args,omitempty"`

	Environment     []EnvVar `json:"Environment,omitempty" toml:"Environment,omitempty"`
	EnvironmentFile string   `json:"EnvironmentFile,omitempty" toml:"EnvironmentFile,omitempty"`
}

// Kind reports which Executable variant a Command carries.
func (c Command) Kind() ExecutableKind {
	switch {
	case c.Remote != nil:
		return ExecutableRemote
	case c.Packaged != nil:
		return ExecutablePackaged
	default:
		return ExecutableLocal
	}
}

// CommandHealthcheck probes liveness by spawning a command and inspecting
// its exit status. DelaySec and RetryLimit are pointers so that an explicit
// zero in a unit file (delay 0, retry_limit 0) is distinguishable from the
// key being absent: a declared 0 must be honored as-is, not silently
// coerced to the default, per spec.md §8's boundary behavior for
// retry_limit=0 ("no additional attempts beyond the first").
type CommandHealthcheck struct {
	Command    Command  `json:"Command" toml:"Command"`
	DelaySec   *float64 `json:"DelaySec,omitempty" toml:"DelaySec,omitempty"`
	RetryLimit *int     `json:"RetryLimit,omitempty" toml:"RetryLimit,omitempty"`
}

// Delay is the configured delay, or DefaultHealthcheckDelay if the key was
// never set. An explicit 0 is returned as-is.
func (c CommandHealthcheck) Delay() time.Duration {
	if c.DelaySec == nil {
		return DefaultHealthcheckDelay
	}
	return time.Duration(*c.DelaySec * float64(time.Second))
}

// Retries is the configured retry limit, or DefaultRetryLimit if the key was
// never set. An explicit 0 is returned as-is, meaning no retries beyond the
// first attempt.
func (c CommandHealthcheck) Retries() int {
	if c.RetryLimit == nil {
		return DefaultRetryLimit
	}
	return *c.RetryLimit
}

// ProcessHealthcheck probes liveness by checking that a process is alive.
// An empty Target means "the spawned process itself"; a non-empty Target
// names a binary to discover among running processes, which is how a
// Forking service's true child PID is found. DelaySec is a pointer for the
// same "explicit zero vs. absent" reason as CommandHealthcheck's.
type ProcessHealthcheck struct {
	Target   string   `json:"Target,omitempty" toml:"Target,omitempty"`
	DelaySec *float64 `json:"DelaySec,omitempty" toml:"DelaySec,omitempty"`
}

// Delay is the configured delay, or DefaultHealthcheckDelay if the key was
// never set. An explicit 0 is returned as-is, which is what lets a
// fast-exiting process be health-checked while it is still alive.
func (p ProcessHealthcheck) Delay() time.Duration {
	if p.DelaySec == nil {
		return DefaultHealthcheckDelay
	}
	return time.Duration(*p.DelaySec * float64(time.Second))
}

// Healthcheck is a tagged union: exactly one of Command or Process is set,
// or neither (no healthcheck at all).
type Healthcheck struct {
	Command *CommandHealthcheck `json:"Command,omitempty" toml:"Command,omitempty"`
	Process *ProcessHealthcheck `json:"Process,omitempty" toml:"Process,omitempty"`
}

// IsProcessWithTarget reports whether h is a Process healthcheck naming a
// target binary, the configuration that discovers a forked child's PID.
func (h *Healthcheck) IsProcessWithTarget() bool {
	return h != nil && h.Process != nil && h.Process.Target != ""
}

// Service is the behavioral body of a unit.
type Service struct {
	Kind ServiceKind `json:"Kind,omitempty" toml:"Kind,omitempty"`

	Autostart bool `json:"Autostart,omitempty" toml:"Autostart,omitempty"`

	ExecStart     Command   `json:"ExecStart" toml:"ExecStart"`
	ExecStartPre  []Command `json:"ExecStartPre,omitempty" toml:"ExecStartPre,omitempty"`
	ExecStartPost []Command `json:"ExecStartPost,omitempty" toml:"ExecStartPost,omitempty"`
	ExecStop      []Command `json:"ExecStop,omitempty" toml:"ExecStop,omitempty"`
	ExecStopPost  []Command `json:"ExecStopPost,omitempty" toml:"ExecStopPost,omitempty"`

	Environment     []EnvVar `json:"Environment,omitempty" toml:"Environment,omitempty"`
	EnvironmentFile string   `json:"EnvironmentFile,omitempty" toml:"EnvironmentFile,omitempty"`

	WorkingDirectory string `json:"WorkingDirectory,omitempty" toml:"WorkingDirectory,omitempty"`

	Healthcheck *Healthcheck `json:"Healthcheck,omitempty" toml:"Healthcheck,omitempty"`

	Restart    RestartPolicy `json:"Restart,omitempty" toml:"Restart,omitempty"`
	RestartSec float64       `json:"RestartSec,omitempty" toml:"RestartSec,omitempty"`

	// Group is carried through from the unit file but does not participate
	// in start/stop/restart semantics; see SPEC_FULL.md.
	Group string `json:"Group,omitempty" toml:"Group,omitempty"`
}

// RestartDelay is the configured restart delay, or DefaultRestartSec if
// unset.
func (s Service) RestartDelay() time.Duration {
	if s.RestartSec <= 0 {
		return DefaultRestartSec
	}
	return time.Duration(s.RestartSec * float64(time.Second))
}

// Definition is the normalized, immutable-after-load in-memory form of a
// unit. It is produced by the Loader and never mutated afterwards; reload
// replaces a unit's Definition wholesale rather than editing it in place.
type Definition struct {
	Name        string            `json:"-" toml:"-"`
	Description string            `json:"-" toml:"-"`
	Requires    []string          `json:"-" toml:"-"`
	Resources   map[string]string `json:"-" toml:"-"`
	Service     Service           `json:"-" toml:"-"`
}

// file is the on-disk shape of a unit file, shared by the JSON and TOML
// decoders.
type file struct {
	Schema    string            `json:"$schema,omitempty" toml:"$schema,omitempty"`
	Unit      identity          `json:"Unit" toml:"Unit"`
	Resources map[string]string `json:"Resources,omitempty" toml:"Resources,omitempty"`
	Service   Service           `json:"Service" toml:"Service"`
}

type identity struct {
	Name        string   `json:"Name" toml:"Name"`
	Description string   `json:"Description,omitempty" toml:"Description,omitempty"`
	Requires    []string `json:"Requires,omitempty" toml:"Requires,omitempty"`
}

func (f file) toDefinition() *Definition {
	return &Definition{
		Name:        f.Unit.Name,
		Description: f.Unit.Description,
		Requires:    f.Unit.Requires,
		Resources:   f.Resources,
		Service:     f.Service,
	}
}

func fromDefinition(d *Definition) file {
	return file{
		Unit: identity{
			Name:        d.Name,
			Description: d.Description,
			Requires:    d.Requires,
		},
		Resources: d.Resources,
		Service:   d.Service,
	}
}
