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

package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWithExplicitDataDir(t *testing.T) {
	root := t.TempDir()
	d, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Data != root {
		t.Fatalf("Data = %q, want %q", d.Data, root)
	}
	if d.Log != filepath.Join(root, "logs") {
		t.Fatalf("Log = %q", d.Log)
	}
	if d.Cache != root {
		t.Fatalf("Cache = %q", d.Cache)
	}
	if d.Control == "" || d.Reply == "" {
		t.Fatalf("expected non-empty socket paths, got %+v", d)
	}
}

func TestEnsureDirsCreatesAll(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested")
	d, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := d.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{d.Data, d.Log, d.Cache} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %q to exist as a directory", dir)
		}
	}
}

func TestExpandUserProfile(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}
	got, err := ExpandUserProfile(`$USERPROFILE/config/unit.toml`)
	if err != nil {
		t.Fatalf("ExpandUserProfile: %v", err)
	}
	want := home + "/config/unit.toml"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandUserProfileNoToken(t *testing.T) {
	got, err := ExpandUserProfile("/etc/wpm/units")
	if err != nil {
		t.Fatalf("ExpandUserProfile: %v", err)
	}
	if got != "/etc/wpm/units" {
		t.Fatalf("got %q", got)
	}
}
