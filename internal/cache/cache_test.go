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

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFetchesAndCaches(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	root := t.TempDir()
	url := srv.URL + "/bin/tool.exe"

	path, err := Resolve(root, url, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Base(path) != "tool.exe" {
		t.Fatalf("unexpected cache filename: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected cache contents: %q", data)
	}

	if _, err := Resolve(root, url, ""); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected exactly one fetch, got %d", hits)
	}
}

func TestResolveHashMismatchLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	root := t.TempDir()
	url := srv.URL + "/artifact.bin"

	_, err := Resolve(root, url, "deadbeef")
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *HashMismatchError, got %T: %v", err, err)
	}
	if mismatch.Expected != "deadbeef" {
		t.Fatalf("unexpected expected hash: %s", mismatch.Expected)
	}

	path, err := localPath(root, url)
	if err != nil {
		t.Fatalf("localPath: %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected no cache file to exist, stat err: %v", statErr)
	}
}

func TestResolveVerifiesMatchingHash(t *testing.T) {
	body := []byte("verified payload")
	sum := sha256.Sum256(body)
	expected := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	root := t.TempDir()
	path, err := Resolve(root, srv.URL+"/artifact.bin", expected)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file to exist: %v", err)
	}
}
