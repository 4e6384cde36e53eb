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

package sat

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// countModels enumerates all assignments over the first nvars variables and
// counts the ones for which some completion of the auxiliary variables
// satisfies the clause list and check passes. Auxiliaries must be projected
// away: polarity-restricted Tseitin encodings leave them free in one
// direction. Brute force on purpose: small enough to be exhaustive and
// independent of any solver.
func countModels(c *Clauses, nvars int, check func(model []bool) bool) int {
	n := c.NumVars()
	satisfied := func(model []bool) bool {
		for _, clause := range c.Clauses() {
			ok := false
			for _, lit := range clause {
				if Evaluate(model, lit) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		return true
	}
	count := 0
	for base := 0; base < 1<<nvars; base++ {
		model := make([]bool, n)
		for i := 0; i < nvars; i++ {
			model[i] = base&(1<<i) != 0
		}
		if check != nil && !check(model[:nvars]) {
			continue
		}
		found := false
		for aux := 0; aux < 1<<(n-nvars) && !found; aux++ {
			for i := nvars; i < n; i++ {
				model[i] = aux&(1<<(i-nvars)) != 0
			}
			found = satisfied(model)
		}
		if found {
			count++
		}
	}
	return count
}

func TestConstantFolding(t *testing.T) {
	c := NewClauses()
	f := c.NewVar("f")

	require.Equal(t, LitFalse, c.And(f, LitFalse, PolarityBoth))
	require.Equal(t, f, c.And(f, LitTrue, PolarityBoth))
	require.Equal(t, f, c.And(f, f, PolarityBoth))
	require.Equal(t, LitFalse, c.And(f, -f, PolarityBoth))

	require.Equal(t, LitTrue, c.Or(f, LitTrue, PolarityBoth))
	require.Equal(t, f, c.Or(f, LitFalse, PolarityBoth))
	require.Equal(t, LitTrue, c.Or(f, -f, PolarityBoth))

	require.Equal(t, -f, c.Not(f))
	require.Equal(t, LitFalse, c.Not(LitTrue))

	require.Equal(t, f, c.Xor(f, LitFalse, PolarityBoth))
	require.Equal(t, -f, c.Xor(f, LitTrue, PolarityBoth))
	require.Equal(t, LitTrue, c.Xor(f, -f, PolarityBoth))

	g := c.NewVar("g")
	require.Equal(t, g, c.ITE(LitTrue, g, f, PolarityBoth))
	require.Equal(t, f, c.ITE(LitFalse, g, f, PolarityBoth))
	require.Equal(t, g, c.ITE(f, g, g, PolarityBoth))

	// none of the above may have emitted a clause or allocated a variable
	require.Empty(t, c.Clauses())
	require.Equal(t, 2, c.NumVars())
}

func TestAllAnyPruning(t *testing.T) {
	c := NewClauses()
	f := c.NewVar("f")

	require.Equal(t, LitTrue, c.All(nil, PolarityBoth))
	require.Equal(t, LitFalse, c.Any(nil, PolarityBoth))
	require.Equal(t, f, c.All([]int{f, f, LitTrue}, PolarityBoth))
	require.Equal(t, f, c.Any([]int{f, f, LitFalse}, PolarityBoth))
	require.Equal(t, LitFalse, c.All([]int{f, -f}, PolarityBoth))
	require.Equal(t, LitTrue, c.Any([]int{f, -f}, PolarityBoth))
	require.Empty(t, c.Clauses())
}

func TestNameRegistry(t *testing.T) {
	c := NewClauses()
	v := c.NewVar("pkg-1.0-0")
	got, ok := c.VarFor("pkg-1.0-0")
	require.True(t, ok)
	require.Equal(t, v, got)
	name, ok := c.NameOf(-v)
	require.True(t, ok)
	require.Equal(t, "pkg-1.0-0", name)
	require.Panics(t, func() { c.NewVar("pkg-1.0-0") })
}

func TestRequireDiscardsConstantFormulas(t *testing.T) {
	c := NewClauses()
	f := c.NewVar("f")

	// tautology: nothing should remain
	c.Require(func(p Polarity) int { return c.Any([]int{f, -f}, p) })
	require.Empty(t, c.Clauses())
	require.False(t, c.Unsat())

	// contradiction: the canonical (1) (-1) pair is recorded
	c.Require(func(p Polarity) int { return c.All([]int{f, -f}, p) })
	require.True(t, c.Unsat())
	if diff := cmp.Diff([][]int{{1}, {-1}}, c.Clauses()); diff != "" {
		t.Errorf("clauses mismatch (-want, +got):\n%s", diff)
	}
}

func TestRequirePrevent(t *testing.T) {
	c := NewClauses()
	f := c.NewVar("f")
	g := c.NewVar("g")
	c.Require(func(p Polarity) int { return c.Any([]int{f, g}, p) })
	c.Prevent(func(p Polarity) int { return c.All([]int{f, g}, p) })

	// (f,f) killed by the requirement, (t,t) by the prevention
	n := countModels(c, 2, nil)
	require.Equal(t, 2, n)
	n = countModels(c, 2, func(m []bool) bool { return m[0] != m[1] })
	require.Equal(t, 2, n)
}

func TestExactlyOnePairwise(t *testing.T) {
	c := NewClauses()
	vars := []int{c.NewVar("a"), c.NewVar("b"), c.NewVar("c")}
	c.Require(func(p Polarity) int { return c.ExactlyOne(vars, p) })

	n := countModels(c, 3, func(m []bool) bool {
		count := 0
		for _, b := range m {
			if b {
				count++
			}
		}
		return count == 1
	})
	require.Equal(t, 3, n)

	// no assignment with 0 or 2+ true vars survives
	total := countModels(c, 3, nil)
	require.Equal(t, 3, total)
}

func TestAtMostOneBDD(t *testing.T) {
	// above the pairwise threshold, exercising the decision diagram path
	c := NewClauses()
	var vars []int
	for i := 0; i < 6; i++ {
		vars = append(vars, c.NewVar(""))
	}
	c.Require(func(p Polarity) int { return c.AtMostOne(vars, p) })

	total := countModels(c, 6, nil)
	n := countModels(c, 6, func(m []bool) bool {
		count := 0
		for _, b := range m {
			if b {
				count++
			}
		}
		return count <= 1
	})
	require.Equal(t, n, total)
	require.Equal(t, 7, n) // all-false plus one per variable
}

func TestLinearBound(t *testing.T) {
	c := NewClauses()
	a := c.NewVar("a")
	b := c.NewVar("b")
	d := c.NewVar("d")
	terms := []Term{{2, a}, {3, b}, {4, d}}

	// unconditional answers allocate nothing
	require.Equal(t, LitTrue, c.LinearBound(terms, 0, 9, PolarityBoth))
	require.Equal(t, LitFalse, c.LinearBound(terms, 10, 12, PolarityBoth))
	require.Empty(t, c.Clauses())

	c.Require(func(p Polarity) int { return c.LinearBound(terms, 3, 6, p) })
	total := countModels(c, 3, nil)
	want := countModels(NewClausesWithVars(3), 3, func(m []bool) bool {
		sum := 0
		if m[0] {
			sum += 2
		}
		if m[1] {
			sum += 3
		}
		if m[2] {
			sum += 4
		}
		return sum >= 3 && sum <= 6
	})
	require.Equal(t, want, total)
}

func TestLinearBoundNegativeCoefficients(t *testing.T) {
	c := NewClauses()
	a := c.NewVar("a")
	b := c.NewVar("b")
	terms := []Term{{-2, a}, {3, b}}

	// sum ranges over {-2, 0, 1, 3}
	c.Require(func(p Polarity) int { return c.LinearBound(terms, 0, 1, p) })
	total := countModels(c, 2, nil)
	want := countModels(NewClausesWithVars(2), 2, func(m []bool) bool {
		sum := 0
		if m[0] {
			sum -= 2
		}
		if m[1] {
			sum += 3
		}
		return sum >= 0 && sum <= 1
	})
	require.Equal(t, want, total)
}

func TestMarkRestore(t *testing.T) {
	c := NewClauses()
	f := c.NewVar("f")
	g := c.NewVar("g")
	c.Require(func(p Polarity) int { return c.Any([]int{f, g}, p) })

	before := len(c.Clauses())
	mark := c.Mark()
	c.Require(func(p Polarity) int { return c.All([]int{f, g}, p) })
	require.Greater(t, len(c.Clauses()), before)
	c.Restore(mark)
	require.Len(t, c.Clauses(), before)

	// the retracted requirement no longer constrains anything
	n := countModels(c, 2, nil)
	require.Equal(t, 3, n)
}

func TestEvaluateTerms(t *testing.T) {
	model := []bool{true, false, true}
	terms := []Term{{1, 1}, {2, 2}, {4, 3}, {8, -2}, {16, LitTrue}}
	require.Equal(t, 1+4+8+16, EvaluateTerms(model, terms))
}

// NewClausesWithVars is a test helper returning an encoder with n fresh
// unnamed variables and no clauses.
func NewClausesWithVars(n int) *Clauses {
	c := NewClauses()
	for i := 0; i < n; i++ {
		c.NewVar("")
	}
	return c
}
