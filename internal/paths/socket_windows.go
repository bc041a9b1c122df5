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

//go:build windows

package paths

// socketPaths returns the named pipe paths for the control plane and its
// reply channel. Named pipes live in a flat, OS-wide namespace, so these
// are fixed well-known names rather than derived from root.
func socketPaths(root string) (control, reply string) {
	return `\\.\pipe\wpm`, `\\.\pipe\wpmctl`
}
