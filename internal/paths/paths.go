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

// Package paths resolves the handful of process-wide filesystem locations
// the daemon needs: where unit logs live, where the artifact cache lives,
// and where its control-plane socket binds. The source one-time-initializes
// these as package-level singletons; this package keeps that shape but
// makes the initialization explicit rather than hiding it behind an
// unexported sync.Once, so cmd/wpmd controls exactly when it happens and
// tests can override it per-case instead of sharing global state.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dirs holds the resolved data, log, cache, and control-socket locations
// for one daemon instance.
type Dirs struct {
	Data    string
	Log     string
	Cache   string
	Control string // control-plane socket / named pipe path
	Reply   string // reply socket / named pipe path, sibling to Control
}

const appDirName = "wpm"

// Resolve computes the default Dirs layout rooted at a "wpm" directory under
// the user's per-OS cache directory (os.UserCacheDir: $XDG_CACHE_HOME or
// ~/.cache on Linux, %LocalAppData% on Windows), unless overridden by an
// explicit dataDir. An empty dataDir means "use the
// default"; it is the only parameter most callers need to set.
func Resolve(dataDir string) (Dirs, error) {
	root := dataDir
	if root == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return Dirs{}, fmt.Errorf("resolve default data directory: %w", err)
		}
		root = filepath.Join(base, appDirName)
	}

	d := Dirs{
		Data: root,
		Log:  filepath.Join(root, "logs"),
		// Cache is the app root itself, not a "cache" subdirectory: the
		// artifact cache's own localPath appends "store/<urlpath>/<filename>"
		// under it, and spec.md's filesystem layout places that store
		// directly under <data-local>/<app>/, as a sibling of logs/.
		Cache: root,
	}
	d.Control, d.Reply = socketPaths(root)
	return d, nil
}

// EnsureDirs creates Data, Log, and Cache if they do not already exist.
func (d Dirs) EnsureDirs() error {
	for _, dir := range []string{d.Data, d.Log, d.Cache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandUserProfile replaces every occurrence of the literal string
// $USERPROFILE in s with the current user's home directory. It mirrors the
// token the source expands across paths, command arguments, environment
// values, and environment-file paths.
func ExpandUserProfile(s string) (string, error) {
	if !strings.Contains(s, "$USERPROFILE") {
		return s, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve $USERPROFILE: %w", err)
	}
	return strings.ReplaceAll(s, "$USERPROFILE", home), nil
}
