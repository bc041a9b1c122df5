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
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/wpmsh/wpm/internal/proctable"
)

// Core is the slice of Supervisor Core that the Control Plane drives.
// Defined locally so this package never imports supervisor directly for its
// own sake beyond this seam, keeping the dependency direction control ->
// supervisor explicit and one-way.
type Core interface {
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Reset(name string)
	State() []proctable.UnitSnapshot
}

// Reloader rescans unit definitions, optionally from an alternate path (""
// means the daemon's configured default directory).
type Reloader func(path string) error

// Plane is the Control Plane: it accepts connections on listener, decodes
// one Message per connection, and serializes every message against core
// through a single dispatch goroutine, matching the one-consumer queue this
// design is modeled on.
type Plane struct {
	core      Core
	listener  net.Listener
	replyAddr string
	logger    *log.Logger
	dial      func(addr string) (net.Conn, error)

	queue chan *Message
	done  chan struct{}

	mu       sync.Mutex
	reloader Reloader
}

// New returns a Plane that dispatches against core, serving on listener, and
// delivering Status/State replies by dialing replyAddr with dial (the
// platform's dial function — see control_unix.go / control_windows.go).
func New(core Core, listener net.Listener, replyAddr string, dial func(string) (net.Conn, error), logger *log.Logger) *Plane {
	return &Plane{
		core:      core,
		listener:  listener,
		replyAddr: replyAddr,
		dial:      dial,
		logger:    logger,
		queue:     make(chan *Message, 64),
		done:      make(chan struct{}),
	}
}

// SetReloader wires Reload messages into the unit loader. Until called,
// Reload messages are logged and dropped.
func (p *Plane) SetReloader(r Reloader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloader = r
}

// Serve accepts connections until Close is called. It blocks; callers run it
// in its own goroutine.
func (p *Plane) Serve() {
	go p.dispatchLoop()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			p.logger.Printf("control: accept: %v", err)
			continue
		}
		go p.handleConn(conn)
	}
}

// Close stops Serve and the dispatch loop.
func (p *Plane) Close() error {
	close(p.done)
	return p.listener.Close()
}

func (p *Plane) handleConn(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}
	msg, err := Decode(line)
	if err != nil {
		p.logger.Printf("control: %v", err)
		return
	}
	p.queue <- msg
}

func (p *Plane) dispatchLoop() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.queue:
			p.dispatch(msg)
		}
	}
}

// dispatch applies one message to core. Every call runs on the single
// dispatch goroutine, so client-issued commands and monitor-driven restarts
// (see RequestRestart) never interleave mid-operation.
func (p *Plane) dispatch(msg *Message) {
	switch msg.Kind {
	case KindStart:
		for _, name := range msg.Names {
			if err := p.core.Start(name); err != nil {
				p.logger.Printf("start %q: %v", name, err)
			}
		}
	case KindStop:
		for _, name := range msg.Names {
			if err := p.core.Stop(name); err != nil {
				p.logger.Printf("stop %q: %v", name, err)
			}
		}
	case KindRestart:
		for _, name := range msg.Names {
			if err := p.core.Restart(name); err != nil {
				p.logger.Printf("restart %q: %v", name, err)
			}
		}
	case KindReset:
		for _, name := range msg.Names {
			p.core.Reset(name)
		}
	case KindStatus:
		p.replyStatus(msg.Target)
	case KindState:
		p.replyState()
	case KindReload:
		p.mu.Lock()
		reloader := p.reloader
		p.mu.Unlock()
		if reloader == nil {
			p.logger.Printf("control: reload requested but no reloader is wired")
			return
		}
		path := ""
		if msg.ReloadPath != nil {
			path = *msg.ReloadPath
		}
		if err := reloader(path); err != nil {
			p.logger.Printf("control: reload: %v", err)
		}
	}
}

func (p *Plane) replyStatus(name string) {
	for _, snap := range p.core.State() {
		if snap.Name == name {
			p.sendReply(formatSnapshot(snap))
			return
		}
	}
	p.sendReply(fmt.Sprintf("%s: unknown unit\n", name))
}

func (p *Plane) replyState() {
	snaps := p.core.State()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	var b strings.Builder
	for _, snap := range snaps {
		b.WriteString(formatSnapshot(snap))
	}
	p.sendReply(b.String())
}

func formatSnapshot(snap proctable.UnitSnapshot) string {
	if snap.Status == proctable.Running {
		return fmt.Sprintf("%s: %s (pid %d)\n", snap.Name, snap.Status, snap.PID)
	}
	return fmt.Sprintf("%s: %s\n", snap.Name, snap.Status)
}

// sendReply dials back out to the client's reply socket and writes text.
// Replies are best-effort: a client that never opened its reply socket
// silently misses the response, matching the fire-and-forget nature of the
// underlying transport.
func (p *Plane) sendReply(text string) {
	conn, err := p.dial(p.replyAddr)
	if err != nil {
		p.logger.Printf("control: dial reply socket %q: %v", p.replyAddr, err)
		return
	}
	defer conn.Close()
	io.WriteString(conn, text)
}

// RequestRestart implements supervisor.RestartRequester. It enqueues a Reset
// immediately followed by a Start for name, so a monitor-driven restart
// waits its turn behind any client commands already queued instead of
// racing the dispatch goroutine directly.
func (p *Plane) RequestRestart(name string) {
	p.queue <- &Message{Kind: KindReset, Names: []string{name}}
	p.queue <- &Message{Kind: KindStart, Names: []string{name}}
}
