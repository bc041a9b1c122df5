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

// Package control implements the Control Plane: a local-socket listener
// that deserializes one ControlMessage per accepted connection and
// dispatches it, in order, against the Supervisor Core.
package control

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind distinguishes the seven control message variants.
type Kind int

// Message kinds.
const (
	KindStart Kind = iota
	KindStop
	KindRestart
	KindReset
	KindStatus
	KindState
	KindReload
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindStop:
		return "Stop"
	case KindRestart:
		return "Restart"
	case KindReset:
		return "Reset"
	case KindStatus:
		return "Status"
	case KindState:
		return "State"
	case KindReload:
		return "Reload"
	default:
		return "Unknown"
	}
}

// Message is the decoded form of one wire message. Names carries the unit
// list for Start/Stop/Restart/Reset; Target carries the Status query name;
// ReloadPath carries Reload's optional path (nil means "rescan the default
// unit directory"); ID is a fresh identifier assigned on decode. ID is not
// part of the wire form and is not included in replies or log lines.
type Message struct {
	Kind       Kind
	Names      []string
	Target     string
	ReloadPath *string
	ID         uuid.UUID
}

// Decode parses one line-delimited wire message. The State message is the
// bare JSON string "State"; every other message is a single-key JSON
// object.
func Decode(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("control: empty message")
	}

	var literal string
	if err := json.Unmarshal(trimmed, &literal); err == nil {
		if literal == "State" {
			return &Message{Kind: KindState, ID: uuid.New()}, nil
		}
		return nil, fmt.Errorf("control: unrecognized message %q", literal)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("control: decode message: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("control: message must have exactly one key, got %d", len(obj))
	}

	for key, raw := range obj {
		msg := &Message{ID: uuid.New()}
		switch key {
		case "Start":
			msg.Kind = KindStart
			if err := json.Unmarshal(raw, &msg.Names); err != nil {
				return nil, fmt.Errorf("control: decode Start: %w", err)
			}
		case "Stop":
			msg.Kind = KindStop
			if err := json.Unmarshal(raw, &msg.Names); err != nil {
				return nil, fmt.Errorf("control: decode Stop: %w", err)
			}
		case "Restart":
			msg.Kind = KindRestart
			if err := json.Unmarshal(raw, &msg.Names); err != nil {
				return nil, fmt.Errorf("control: decode Restart: %w", err)
			}
		case "Reset":
			msg.Kind = KindReset
			if err := json.Unmarshal(raw, &msg.Names); err != nil {
				return nil, fmt.Errorf("control: decode Reset: %w", err)
			}
		case "Status":
			msg.Kind = KindStatus
			if err := json.Unmarshal(raw, &msg.Target); err != nil {
				return nil, fmt.Errorf("control: decode Status: %w", err)
			}
		case "Reload":
			msg.Kind = KindReload
			if string(raw) == "null" {
				break
			}
			var path string
			if err := json.Unmarshal(raw, &path); err != nil {
				return nil, fmt.Errorf("control: decode Reload: %w", err)
			}
			msg.ReloadPath = &path
		default:
			return nil, fmt.Errorf("control: unknown message key %q", key)
		}
		return msg, nil
	}
	panic("unreachable: range over single-element map")
}

// Encode renders msg back to its wire form. Used by the test suite to
// round-trip Decode, and available to any in-process client that wants to
// build a request without hand-writing JSON.
func Encode(msg *Message) ([]byte, error) {
	switch msg.Kind {
	case KindStart:
		return json.Marshal(map[string][]string{"Start": msg.Names})
	case KindStop:
		return json.Marshal(map[string][]string{"Stop": msg.Names})
	case KindRestart:
		return json.Marshal(map[string][]string{"Restart": msg.Names})
	case KindReset:
		return json.Marshal(map[string][]string{"Reset": msg.Names})
	case KindStatus:
		return json.Marshal(map[string]string{"Status": msg.Target})
	case KindState:
		return json.Marshal("State")
	case KindReload:
		return json.Marshal(map[string]*string{"Reload": msg.ReloadPath})
	default:
		return nil, fmt.Errorf("control: unknown message kind %v", msg.Kind)
	}
}
