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

package unit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
)

// DecodeJSON parses a unit definition encoded as JSON.
func DecodeJSON(data []byte) (*Definition, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode json unit: %w", err)
	}
	return f.toDefinition(), nil
}

// EncodeJSON renders a unit definition as indented JSON.
func EncodeJSON(d *Definition) ([]byte, error) {
	return json.MarshalIndent(fromDefinition(d), "", "    ")
}

// DecodeTOML parses a unit definition encoded as TOML.
func DecodeTOML(data []byte) (*Definition, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode toml unit: %w", err)
	}
	return f.toDefinition(), nil
}

// EncodeTOML renders a unit definition as TOML.
func EncodeTOML(d *Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(fromDefinition(d)); err != nil {
		return nil, fmt.Errorf("encode toml unit: %w", err)
	}
	return buf.Bytes(), nil
}
