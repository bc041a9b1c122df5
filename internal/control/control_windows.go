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

package control

import (
	"context"
	"net"

	winio "github.com/Microsoft/go-winio"
)

// Listen opens the Control Plane's named pipe at path (e.g.
// \\.\pipe\wpm).
func Listen(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

// Dial connects to a named pipe at path.
func Dial(path string) (net.Conn, error) {
	return winio.DialPipeContext(context.Background(), path)
}
