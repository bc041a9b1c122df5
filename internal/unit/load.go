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

package unit

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/wpmsh/wpm/internal/cache"
)

// InvalidForkingServiceError reports that a Forking service's healthcheck is
// not a Process healthcheck naming a target binary.
type InvalidForkingServiceError struct{ Name string }

func (e *InvalidForkingServiceError) Error() string {
	return fmt.Sprintf("unit %q: Forking services must declare a Process healthcheck with a Target", e.Name)
}

// InvalidSimpleServiceError reports that a Simple service's healthcheck is a
// Process healthcheck naming a target binary (reserved for Forking).
type InvalidSimpleServiceError struct{ Name string }

func (e *InvalidSimpleServiceError) Error() string {
	return fmt.Sprintf("unit %q: Simple services must not declare a Process healthcheck with a Target", e.Name)
}

var resourceToken = regexp.MustCompile(`\{\{\s*Resources\.([A-Za-z0-9_]+)\s*\}\}`)

// skippedUnitFiles are editor-tooling files that happen to share the .toml
// extension but are not unit definitions.
var skippedUnitFiles = map[string]bool{
	"taplo.toml":  true,
	".taplo.toml": true,
}

// Load scans dir (non-recursively) for .json and .toml unit files and
// returns their normalized Definitions. Other extensions are skipped
// silently. A unit whose primary executable cannot be located on PATH is
// omitted with a warning rather than failing the whole load; a kind/
// healthcheck mismatch aborts the whole load, since it signals a
// contradiction the author must fix.
func Load(dir string, cacheRoot string, logger *log.Logger) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read unit directory: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var defs []*Definition
	for _, name := range names {
		if skippedUnitFiles[strings.ToLower(name)] {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".toml" {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read unit file %s: %w", name, err)
		}

		var def *Definition
		switch ext {
		case ".json":
			def, err = DecodeJSON(data)
		case ".toml":
			def, err = DecodeTOML(data)
		}
		if err != nil {
			return nil, fmt.Errorf("parse unit file %s: %w", name, err)
		}

		expandUserProfile(def, home)

		if def.Service.EnvironmentFile != "" {
			extra, err := loadEnvironmentFile(def.Service.EnvironmentFile)
			if err != nil {
				return nil, fmt.Errorf("unit %q: load environment file: %w", def.Name, err)
			}
			def.Service.Environment = append(def.Service.Environment, extra...)
		}

		resolveResources(def, cacheRoot, logger)

		if err := validateKind(def); err != nil {
			return nil, err
		}
		applyHealthcheckDefaults(def)

		if !resolveExecutablesOnPATH(def, logger) {
			continue
		}

		defs = append(defs, def)
	}

	return defs, nil
}

func expandUserProfile(def *Definition, home string) {
	replace := func(s string) string { return strings.ReplaceAll(s, "$USERPROFILE", home) }

	replaceCommand := func(c *Command) {
		c.Local = replace(c.Local)
		c.EnvironmentFile = replace(c.EnvironmentFile)
		for i := range c.Args {
			c.Args[i] = replace(c.Args[i])
		}
		for i := range c.Environment {
			c.Environment[i].Value = replace(c.Environment[i].Value)
		}
	}

	def.Service.WorkingDirectory = replace(def.Service.WorkingDirectory)
	def.Service.EnvironmentFile = replace(def.Service.EnvironmentFile)
	for i := range def.Service.Environment {
		def.Service.Environment[i].Value = replace(def.Service.Environment[i].Value)
	}

	replaceCommand(&def.Service.ExecStart)
	for i := range def.Service.ExecStartPre {
		replaceCommand(&def.Service.ExecStartPre[i])
	}
	for i := range def.Service.ExecStartPost {
		replaceCommand(&def.Service.ExecStartPost[i])
	}
	for i := range def.Service.ExecStop {
		replaceCommand(&def.Service.ExecStop[i])
	}
	for i := range def.Service.ExecStopPost {
		replaceCommand(&def.Service.ExecStopPost[i])
	}
	if hc := def.Service.Healthcheck; hc != nil && hc.Command != nil {
		replaceCommand(&hc.Command.Command)
	}
}

func loadEnvironmentFile(path string) ([]EnvVar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseEnvFile(f)
}

// resolveResources fetches every declared resource into the artifact cache
// (warning and leaving the identifier unsubstituted on failure) and then
// replaces every {{ Resources.NAME }} token in arguments and environment
// values across the whole unit.
func resolveResources(def *Definition, cacheRoot string, logger *log.Logger) {
	if len(def.Resources) == 0 {
		return
	}

	resolved := make(map[string]string, len(def.Resources))
	for id, url := range def.Resources {
		path, err := cache.ResolveRemote(cacheRoot, url, "")
		if err != nil {
			if logger != nil {
				logger.Printf("unit %q: resource %q: %v", def.Name, id, err)
			}
			continue
		}
		resolved[id] = path
	}

	substitute := func(s string) string {
		return resourceToken.ReplaceAllStringFunc(s, func(tok string) string {
			m := resourceToken.FindStringSubmatch(tok)
			if path, ok := resolved[m[1]]; ok {
				return path
			}
			return tok
		})
	}

	substituteCommand := func(c *Command) {
		for i := range c.Args {
			c.Args[i] = substitute(c.Args[i])
		}
		for i := range c.Environment {
			c.Environment[i].Value = substitute(c.Environment[i].Value)
		}
	}

	for i := range def.Service.Environment {
		def.Service.Environment[i].Value = substitute(def.Service.Environment[i].Value)
	}
	substituteCommand(&def.Service.ExecStart)
	for i := range def.Service.ExecStartPre {
		substituteCommand(&def.Service.ExecStartPre[i])
	}
	for i := range def.Service.ExecStartPost {
		substituteCommand(&def.Service.ExecStartPost[i])
	}
	for i := range def.Service.ExecStop {
		substituteCommand(&def.Service.ExecStop[i])
	}
	for i := range def.Service.ExecStopPost {
		substituteCommand(&def.Service.ExecStopPost[i])
	}
	if hc := def.Service.Healthcheck; hc != nil && hc.Command != nil {
		substituteCommand(&hc.Command.Command)
	}
}

func validateKind(def *Definition) error {
	hc := def.Service.Healthcheck
	switch def.Service.Kind {
	case Forking:
		if !hc.IsProcessWithTarget() {
			return &InvalidForkingServiceError{Name: def.Name}
		}
	case Simple:
		if hc.IsProcessWithTarget() {
			return &InvalidSimpleServiceError{Name: def.Name}
		}
	}
	return nil
}

func applyHealthcheckDefaults(def *Definition) {
	switch def.Service.Kind {
	case Simple:
		if def.Service.Healthcheck == nil {
			def.Service.Healthcheck = &Healthcheck{Process: &ProcessHealthcheck{}}
		}
	case Oneshot:
		def.Service.Healthcheck = nil
	}
}

// resolveExecutablesOnPATH resolves every local-path executable referenced
// by def (primary, pre/post/stop commands, and a Command healthcheck)
// against PATH when it is not already an existing file. It returns false,
// logging a warning, if any local executable cannot be located anywhere.
func resolveExecutablesOnPATH(def *Definition, logger *log.Logger) bool {
	commands := []*Command{&def.Service.ExecStart}
	for i := range def.Service.ExecStartPre {
		commands = append(commands, &def.Service.ExecStartPre[i])
	}
	for i := range def.Service.ExecStartPost {
		commands = append(commands, &def.Service.ExecStartPost[i])
	}
	for i := range def.Service.ExecStop {
		commands = append(commands, &def.Service.ExecStop[i])
	}
	for i := range def.Service.ExecStopPost {
		commands = append(commands, &def.Service.ExecStopPost[i])
	}
	if hc := def.Service.Healthcheck; hc != nil && hc.Command != nil {
		commands = append(commands, &hc.Command.Command)
	}

	for _, c := range commands {
		if c.Kind() != ExecutableLocal || c.Local == "" {
			continue
		}
		resolved, err := resolveOnPATH(c.Local)
		if err != nil {
			if logger != nil {
				logger.Printf("unit %q: %v, skipping", def.Name, err)
			}
			return false
		}
		c.Local = resolved
	}
	return true
}

func resolveOnPATH(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	found, err := exec.LookPath(path)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("executable %q not found on PATH", path)
		}
		return "", fmt.Errorf("executable %q not found on PATH: %w", path, err)
	}
	abs, err := filepath.Abs(found)
	if err != nil {
		return "", err
	}
	return abs, nil
}
