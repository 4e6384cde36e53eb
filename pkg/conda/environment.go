// Copyright 2025 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conda

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment is a declarative request for a set of packages, read from an
// environment.yml file.
type Environment struct {
	Name         string   `yaml:"name,omitempty"`
	Channels     []string `yaml:"channels,omitempty"`
	Dependencies []string `yaml:"dependencies"`
}

// ParseEnvironment decodes an environment file and validates that every
// dependency parses as a match spec.
func ParseEnvironment(r io.Reader) (*Environment, error) {
	var env Environment
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	for _, dep := range env.Dependencies {
		if _, err := ParseMatchSpec(dep); err != nil {
			return nil, err
		}
	}
	return &env, nil
}

// LoadEnvironment reads an environment file from disk.
func LoadEnvironment(path string) (*Environment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening environment: %w", err)
	}
	defer f.Close()
	env, err := ParseEnvironment(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

// Specs returns the parsed dependency specs.
func (e *Environment) Specs() ([]*MatchSpec, error) {
	specs := make([]*MatchSpec, 0, len(e.Dependencies))
	for _, dep := range e.Dependencies {
		spec, err := cachedParseMatchSpec(dep)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
