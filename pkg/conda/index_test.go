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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexGroupsAndLookup(t *testing.T) {
	ix := BuildIndex([]*PackageRecord{
		testRecord(t, "numpy", "1.7.1", "py27_0", 0, nil),
		testRecord(t, "numpy", "1.7.1", "py33_0", 0, nil),
		testRecord(t, "numpy", "1.6.2", "py27_0", 0, nil),
		testRecord(t, "python", "2.7.5", "0", 0, nil),
	})

	require.Equal(t, 4, ix.Len())
	require.Equal(t, []string{"numpy", "python"}, ix.Names())
	require.Len(t, ix.Group("numpy"), 3)
	require.Empty(t, ix.Group("scipy"))

	rec, ok := ix.Get("defaults::python-2.7.5-0")
	require.True(t, ok)
	require.Equal(t, "python", rec.Name)

	_, ok = ix.Get("defaults::python-3.3.2-0")
	require.False(t, ok)
}

func TestIndexDuplicateKeyLastWins(t *testing.T) {
	a := testRecord(t, "numpy", "1.7.1", "py27_0", 0, nil)
	b := testRecord(t, "numpy", "1.7.1", "py27_0", 0, []string{"python 2.7*"})
	ix := BuildIndex([]*PackageRecord{a, b})

	require.Equal(t, 1, ix.Len())
	rec, ok := ix.Get(a.Key())
	require.True(t, ok)
	require.Equal(t, []string{"python 2.7*"}, rec.Depends)
}

func TestIndexFindMatches(t *testing.T) {
	ix := BuildIndex([]*PackageRecord{
		testRecord(t, "numpy", "1.7.1", "py27_0", 0, nil),
		testRecord(t, "numpy", "1.7.1", "py33_0", 0, nil),
		testRecord(t, "numpy", "1.6.2", "py27_0", 0, nil),
		testRecord(t, "numexpr", "2.1", "np17py27_0", 0, nil),
		testRecord(t, "python", "2.7.5", "0", 0, nil),
	})

	require.Len(t, ix.FindMatches(mustSpec(t, "numpy")), 3)
	require.Len(t, ix.FindMatches(mustSpec(t, "numpy 1.7.1")), 2)
	require.Len(t, ix.FindMatches(mustSpec(t, "numpy 1.7.1 py27_0")), 1)
	require.Len(t, ix.FindMatches(mustSpec(t, "numpy >=1.7")), 2)
	require.Empty(t, ix.FindMatches(mustSpec(t, "numpy >=2")))
	require.Empty(t, ix.FindMatches(mustSpec(t, "scipy")))

	// pattern names scan every group
	require.Len(t, ix.FindMatches(mustSpec(t, "^num.*$")), 4)
	require.Len(t, ix.FindMatches(mustSpec(t, "* >=2")), 2)

	// memoized result is stable
	first := ix.FindMatches(mustSpec(t, "numpy 1.7.1"))
	second := ix.FindMatches(mustSpec(t, "numpy 1.7.1"))
	require.Equal(t, first, second)
}
