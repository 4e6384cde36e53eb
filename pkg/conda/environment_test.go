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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment(strings.NewReader(`
name: science
channels:
  - defaults
  - conda-forge
dependencies:
  - numpy 1.7*
  - python >=2.7,<3
`))
	require.NoError(t, err)
	require.Equal(t, "science", env.Name)
	require.Equal(t, []string{"defaults", "conda-forge"}, env.Channels)

	specs, err := env.Specs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "numpy", specs[0].Name)
	require.Equal(t, "python >=2.7,<3", specs[1].String())
}

func TestParseEnvironmentRejectsBadSpec(t *testing.T) {
	_, err := ParseEnvironment(strings.NewReader(`
dependencies:
  - numpy <>1.7
`))
	require.ErrorIs(t, err, ErrMalformedSpec)
}

func TestParseEnvironmentRejectsUnknownKeys(t *testing.T) {
	_, err := ParseEnvironment(strings.NewReader(`
dependencies: [numpy]
prefix: /opt/env
`))
	require.Error(t, err)
}

func TestLoadEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.yml")
	require.NoError(t, os.WriteFile(path, []byte("dependencies:\n  - numpy\n"), 0o644))

	env, err := LoadEnvironment(path)
	require.NoError(t, err)
	require.Equal(t, []string{"numpy"}, env.Dependencies)

	_, err = LoadEnvironment(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}
