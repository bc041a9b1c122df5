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
	"bufio"
	"errors"
	"io"
	"strings"
)

// parseEnvFile reads a key=value environment file, one assignment per line.
// Lines starting with "#" are comments; "export " prefixes on keys are
// stripped; values may be single- or double-quoted and support backslash
// escapes. Adapted from the runner's own environment-file reader.
func parseEnvFile(r io.Reader) ([]EnvVar, error) {
	var env []EnvVar
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		br := bufio.NewReader(strings.NewReader(line))
		key, err := br.ReadString('=')
		if err != nil {
			continue
		}
		key = key[:len(key)-1]
		if strings.Contains(key, "#") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(key), "export ") {
			key = key[len("export "):]
		}

		var (
			value         strings.Builder
			isEscaped     bool
			inSingleQuote bool
			inDoubleQuote bool
		)
		for {
			c, err := br.ReadByte()
			if errors.Is(err, io.EOF) {
				break
			}
			if c == '#' && !inSingleQuote && !inDoubleQuote {
				break
			}
			if c == '\\' && !isEscaped {
				isEscaped = true
				continue
			}
			if c == '\'' && !inDoubleQuote && !isEscaped {
				inSingleQuote = !inSingleQuote
				continue
			}
			if c == '"' && !inSingleQuote && !isEscaped {
				inDoubleQuote = !inDoubleQuote
				continue
			}
			isEscaped = false
			value.WriteByte(c)
		}
		env = append(env, EnvVar{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value.String()),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return env, nil
}
