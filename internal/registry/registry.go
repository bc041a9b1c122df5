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

// Package registry holds the in-memory map of normalized unit Definitions,
// keyed by their unique name.
package registry

import (
	"sort"
	"sync"

	"github.com/wpmsh/wpm/internal/unit"
)

// Registry is a concurrency-safe map from unit name to Definition. It
// enforces no invariant beyond name uniqueness: Definitions are created by
// load/reload and never mutated once registered.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*unit.Definition
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{units: make(map[string]*unit.Definition)}
}

// Get looks up a Definition by name.
func (r *Registry) Get(name string) (*unit.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.units[name]
	return d, ok
}

// Insert registers def, replacing any prior Definition with the same name.
func (r *Registry) Insert(def *unit.Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[def.Name] = def
}

// Remove deletes the Definition named name, if any.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, name)
}

// Names returns every registered unit name, sorted for deterministic
// iteration (State snapshots, Shutdown, and Autostart walk units in this
// order).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace atomically swaps the entire registry contents for defs, keyed by
// each Definition's Name. Used by Reload, which re-scans the unit directory
// from scratch; Definitions belonging to currently Running units are
// replaced here too, but the caller's process table is untouched until the
// running process exits (see loadUnits in cmd/wpmd).
func (r *Registry) Replace(defs []*unit.Definition) {
	units := make(map[string]*unit.Definition, len(defs))
	for _, d := range defs {
		units[d.Name] = d
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = units
}

// DependentsOf returns the names of every registered unit whose Requires
// lists name. There are no back-references stored on a Definition, so this
// is a forward scan through the whole registry, as SPEC_FULL.md's notes on
// dependency chains describe.
func (r *Registry) DependentsOf(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var dependents []string
	for _, d := range r.units {
		for _, dep := range d.Requires {
			if dep == name {
				dependents = append(dependents, d.Name)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}
