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

//go:build !windows

package control

import (
	"net"
	"os"
)

// Listen opens the Control Plane's Unix domain socket at path, removing any
// stale socket file a previous, uncleanly-terminated daemon left behind.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return net.Listen("unix", path)
}

// Dial connects to a Unix domain socket at path, used both by wpmctl and by
// Plane.sendReply to deliver Status/State replies.
func Dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
