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

package control

import (
	"bufio"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wpmsh/wpm/internal/proctable"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []*Message{
		{Kind: KindStart, Names: []string{"a", "b"}},
		{Kind: KindStop, Names: []string{"a"}},
		{Kind: KindRestart, Names: []string{"a"}},
		{Kind: KindReset, Names: []string{"a"}},
		{Kind: KindStatus, Target: "a"},
		{Kind: KindState},
		{Kind: KindReload},
	}
	for _, want := range cases {
		wire, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%v): %v", want.Kind, err)
		}
		got, err := Decode(wire)
		if err != nil {
			t.Fatalf("Decode(%s): %v", wire, err)
		}
		got.ID = want.ID // ID is assigned fresh on decode, not part of wire equality
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip for %v mismatch (-want +got):\n%s", want.Kind, diff)
		}
	}
}

func TestDecodeReloadWithPath(t *testing.T) {
	path := "/etc/wpm/units"
	msg, err := Decode([]byte(`{"Reload": "/etc/wpm/units"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != KindReload || msg.ReloadPath == nil || *msg.ReloadPath != path {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestDecodeRejectsMultiKeyObject(t *testing.T) {
	_, err := Decode([]byte(`{"Start": ["a"], "Stop": ["b"]}`))
	if err == nil {
		t.Fatal("expected an error for a multi-key message")
	}
}

func TestDecodeRejectsUnknownLiteral(t *testing.T) {
	_, err := Decode([]byte(`"Bogus"`))
	if err == nil {
		t.Fatal("expected an error for an unrecognized literal message")
	}
}

// fakeCore records every call it receives so tests can assert dispatch
// order and arguments without a real Supervisor Core.
type fakeCore struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCore) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeCore) Start(name string) error   { f.record("start:" + name); return nil }
func (f *fakeCore) Stop(name string) error    { f.record("stop:" + name); return nil }
func (f *fakeCore) Restart(name string) error { f.record("restart:" + name); return nil }
func (f *fakeCore) Reset(name string)         { f.record("reset:" + name) }
func (f *fakeCore) State() []proctable.UnitSnapshot {
	return []proctable.UnitSnapshot{{Name: "alpha", Status: proctable.Running, PID: 4242}}
}

func (f *fakeCore) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newUnixPlane(t *testing.T, core Core) (*Plane, string) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "wpm.sock")
	replyPath := filepath.Join(dir, "wpmctl.sock")

	l, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	p := New(core, l, replyPath, Dial, log.New(io.Discard, "", 0))
	go p.Serve()
	t.Cleanup(func() { p.Close() })
	return p, sockPath
}

func sendLine(t *testing.T, sockPath string, msg *Message) {
	t.Helper()
	wire, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	conn, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.Write(append(wire, '\n'))
}

func TestPlaneDispatchesStart(t *testing.T) {
	core := &fakeCore{}
	_, sockPath := newUnixPlane(t, core)

	sendLine(t, sockPath, &Message{Kind: KindStart, Names: []string{"alpha", "beta"}})

	waitForCalls(t, core, 2)
	got := core.snapshot()
	if len(got) != 2 || got[0] != "start:alpha" || got[1] != "start:beta" {
		t.Fatalf("unexpected calls: %v", got)
	}
}

func TestPlaneStatusReplyDialsBack(t *testing.T) {
	core := &fakeCore{}
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "wpm.sock")
	replyPath := filepath.Join(dir, "wpmctl.sock")

	l, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	rl, err := Listen(replyPath)
	if err != nil {
		t.Fatalf("Listen reply: %v", err)
	}
	defer rl.Close()

	replies := make(chan string, 1)
	go func() {
		conn, err := rl.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		replies <- line
	}()

	p := New(core, l, replyPath, Dial, log.New(io.Discard, "", 0))
	go p.Serve()
	defer p.Close()

	sendLine(t, sockPath, &Message{Kind: KindStatus, Target: "alpha"})

	select {
	case reply := <-replies:
		want := "alpha: Running (pid 4242)\n"
		if reply != want {
			t.Fatalf("reply = %q, want %q", reply, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestRequestRestartQueuesResetThenStart(t *testing.T) {
	core := &fakeCore{}
	p, _ := newUnixPlane(t, core)

	p.RequestRestart("alpha")

	waitForCalls(t, core, 2)
	got := core.snapshot()
	if len(got) != 2 || got[0] != "reset:alpha" || got[1] != "start:alpha" {
		t.Fatalf("unexpected calls: %v", got)
	}
}

func waitForCalls(t *testing.T, core *fakeCore, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(core.snapshot()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %v", n, core.snapshot())
}
