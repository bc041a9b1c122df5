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
	"os"
	"os/exec"
	"path/filepath"

	"github.com/wpmsh/wpm/internal/cache"
	"github.com/wpmsh/wpm/internal/unit"
)

// resolveExecutable locates c's executable on disk, fetching or installing
// it into the artifact cache first if it is Remote or Packaged. Local
// executables are already absolute paths by the time a Definition reaches
// the supervisor, resolved once at load time.
func resolveExecutable(c unit.Command, cacheRoot string) (string, error) {
	switch c.Kind() {
	case unit.ExecutableRemote:
		return cache.Resolve(cacheRoot, c.Remote.URL, c.Remote.Hash)
	case unit.ExecutablePackaged:
		return cache.ResolvePackaged(cacheRoot, c.Packaged.ManifestURL, c.Packaged.Package, c.Packaged.Version, c.Packaged.Target)
	default:
		return c.Local, nil
	}
}

// buildCmd resolves c's executable and returns a ready-to-start *exec.Cmd:
// argv, working directory, the unit's base environment plus c's own
// per-command environment, and output routed to log.
func buildCmd(c unit.Command, def *unit.Definition, cacheRoot string, log io.Writer) (*exec.Cmd, error) {
	path, err := resolveExecutable(c, cacheRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(path, c.Args...)
	cmd.Dir = def.Service.WorkingDirectory
	cmd.Env = append(os.Environ(), unit.Strings(def.Service.Environment)...)
	cmd.Env = append(cmd.Env, unit.Strings(c.Environment)...)
	cmd.Stdout = log
	cmd.Stderr = log
	prepareSysProcAttr(cmd)
	return cmd, nil
}

// runCommands executes each command in order, awaiting completion before
// starting the next. The first failure aborts the sequence and is
// returned; callers that must tolerate failures (exec_stop, exec_stop_post)
// log the error instead of propagating it.
func runCommands(commands []unit.Command, def *unit.Definition, cacheRoot string, log io.Writer) error {
	for i, c := range commands {
		cmd, err := buildCmd(c, def, cacheRoot, log)
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("command %d (%s): %w", i, filepath.Base(cmd.Path), err)
		}
	}
	return nil
}

// openUnitLog opens (creating if needed) the append-only log file stdout
// and stderr of every command belonging to name share.
func openUnitLog(dataDir, name string) (*os.File, error) {
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file for %s: %w", name, err)
	}
	return f, nil
}
