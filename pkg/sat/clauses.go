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
	"math"
	"sort"
)

// LitTrue and LitFalse are constant pseudo-literals. They only ever exist
// inside formula construction; the folding in the combinators guarantees
// they never appear in an emitted clause.
const (
	LitTrue  = math.MaxInt32
	LitFalse = -LitTrue
)

// Polarity restricts which direction of a Tseitin encoding is emitted.
// When a formula will only ever be asserted true, the clauses that force the
// auxiliary variable false are dead weight, and vice versa.
type Polarity int8

const (
	PolarityBoth Polarity = iota
	PolarityPositive
	PolarityNegative
)

func (p Polarity) invert() Polarity {
	switch p {
	case PolarityPositive:
		return PolarityNegative
	case PolarityNegative:
		return PolarityPositive
	}
	return PolarityBoth
}

// A Term is one weighted literal of a linear constraint.
type Term struct {
	Coeff int
	Lit   int
}

// Clauses accumulates a CNF formula over a growing set of boolean variables.
// Variables are positive integers; a negative literal is the negation of its
// variable. A name registry maps human-meaningful names (such as record keys)
// to variable numbers bidirectionally. Once a variable is named it keeps that
// name for the lifetime of the Clauses; variable numbers are never reused or
// renumbered.
//
// All formula combinators fold constants aggressively, so trivially true or
// false subformulas never allocate a variable or emit a clause.
type Clauses struct {
	names   map[string]int
	indices map[int]string
	clauses [][]int
	m       int
	unsat   bool
}

func NewClauses() *Clauses {
	return &Clauses{
		names:   map[string]int{},
		indices: map[int]string{},
	}
}

// NewVar allocates a fresh variable. A non-empty name binds the variable in
// the registry; allocating a name twice panics, since that always indicates
// a caller bug rather than a runtime condition.
func (c *Clauses) NewVar(name string) int {
	c.m++
	v := c.m
	if name != "" {
		if _, ok := c.names[name]; ok {
			panic("sat: duplicate variable name " + name)
		}
		c.names[name] = v
		c.indices[v] = name
	}
	return v
}

// VarFor returns the variable bound to name, if any.
func (c *Clauses) VarFor(name string) (int, bool) {
	v, ok := c.names[name]
	return v, ok
}

// NameOf returns the name bound to the variable of lit, if any.
func (c *Clauses) NameOf(lit int) (string, bool) {
	if lit < 0 {
		lit = -lit
	}
	s, ok := c.indices[lit]
	return s, ok
}

// NumVars returns the number of allocated variables.
func (c *Clauses) NumVars() int { return c.m }

// Unsat reports whether an assertion has already collapsed the formula to a
// contradiction.
func (c *Clauses) Unsat() bool { return c.unsat }

// Clauses returns the accumulated clause list. The slice is shared with the
// encoder; callers must not mutate it.
func (c *Clauses) Clauses() [][]int { return c.clauses }

// Mark returns a checkpoint of the clause list, and Restore truncates back
// to it. Variables allocated in between stay allocated; they are simply
// unconstrained afterwards. This is what the bisection optimizer uses to
// retract a trial bound.
func (c *Clauses) Mark() int { return len(c.clauses) }

func (c *Clauses) Restore(mark int) { c.clauses = c.clauses[:mark] }

// AddClause appends one clause verbatim. The literals must not be constants.
func (c *Clauses) AddClause(lits ...int) {
	c.clauses = append(c.clauses, lits)
}

// Not negates a literal.
func (c *Clauses) Not(x int) int {
	switch x {
	case LitTrue:
		return LitFalse
	case LitFalse:
		return LitTrue
	}
	return -x
}

// And builds f AND g.
func (c *Clauses) And(f, g int, polarity Polarity) int {
	if f == LitFalse || g == LitFalse {
		return LitFalse
	}
	if f == LitTrue {
		return g
	}
	if g == LitTrue {
		return f
	}
	if f == g {
		return f
	}
	if f == -g {
		return LitFalse
	}
	x := c.NewVar("")
	if polarity != PolarityNegative {
		c.AddClause(-x, f)
		c.AddClause(-x, g)
	}
	if polarity != PolarityPositive {
		c.AddClause(x, -f, -g)
	}
	return x
}

// Or builds f OR g, by duality with And.
func (c *Clauses) Or(f, g int, polarity Polarity) int {
	return c.Not(c.And(c.Not(f), c.Not(g), polarity.invert()))
}

// Xor builds f XOR g.
func (c *Clauses) Xor(f, g int, polarity Polarity) int {
	if f == LitFalse {
		return g
	}
	if g == LitFalse {
		return f
	}
	if f == LitTrue {
		return c.Not(g)
	}
	if g == LitTrue {
		return c.Not(f)
	}
	if f == g {
		return LitFalse
	}
	if f == -g {
		return LitTrue
	}
	x := c.NewVar("")
	if polarity != PolarityNegative {
		c.AddClause(-x, f, g)
		c.AddClause(-x, -f, -g)
	}
	if polarity != PolarityPositive {
		c.AddClause(x, -f, g)
		c.AddClause(x, f, -g)
	}
	return x
}

// ITE builds if cond then t else f.
func (c *Clauses) ITE(cond, t, f int, polarity Polarity) int {
	if cond == LitTrue {
		return t
	}
	if cond == LitFalse {
		return f
	}
	if t == f {
		return t
	}
	if t == -f {
		return c.Xor(cond, f, polarity)
	}
	if t == LitTrue {
		return c.Or(cond, f, polarity)
	}
	if t == LitFalse {
		return c.And(c.Not(cond), f, polarity)
	}
	if f == LitTrue {
		return c.Or(c.Not(cond), t, polarity)
	}
	if f == LitFalse {
		return c.And(cond, t, polarity)
	}
	x := c.NewVar("")
	if polarity != PolarityNegative {
		c.AddClause(-x, -cond, t)
		c.AddClause(-x, cond, f)
		// redundant, but propagates better
		c.AddClause(-x, t, f)
	}
	if polarity != PolarityPositive {
		c.AddClause(x, -cond, -t)
		c.AddClause(x, cond, -f)
		c.AddClause(x, -t, -f)
	}
	return x
}

// All builds the conjunction of lits, pruning duplicates and detecting
// complementary pairs.
func (c *Clauses) All(lits []int, polarity Polarity) int {
	seen := make(map[int]bool, len(lits))
	kept := make([]int, 0, len(lits))
	for _, f := range lits {
		switch {
		case f == LitTrue || seen[f]:
			continue
		case f == LitFalse || seen[-f]:
			return LitFalse
		}
		seen[f] = true
		kept = append(kept, f)
	}
	switch len(kept) {
	case 0:
		return LitTrue
	case 1:
		return kept[0]
	}
	x := c.NewVar("")
	if polarity != PolarityNegative {
		for _, f := range kept {
			c.AddClause(-x, f)
		}
	}
	if polarity != PolarityPositive {
		neg := make([]int, 0, len(kept)+1)
		neg = append(neg, x)
		for _, f := range kept {
			neg = append(neg, -f)
		}
		c.AddClause(neg...)
	}
	return x
}

// Any builds the disjunction of lits.
func (c *Clauses) Any(lits []int, polarity Polarity) int {
	seen := make(map[int]bool, len(lits))
	kept := make([]int, 0, len(lits))
	for _, f := range lits {
		switch {
		case f == LitFalse || seen[f]:
			continue
		case f == LitTrue || seen[-f]:
			return LitTrue
		}
		seen[f] = true
		kept = append(kept, f)
	}
	switch len(kept) {
	case 0:
		return LitFalse
	case 1:
		return kept[0]
	}
	x := c.NewVar("")
	if polarity != PolarityNegative {
		pos := make([]int, 0, len(kept)+1)
		pos = append(pos, -x)
		pos = append(pos, kept...)
		c.AddClause(pos...)
	}
	if polarity != PolarityPositive {
		for _, f := range kept {
			c.AddClause(x, -f)
		}
	}
	return x
}

// Pairwise mutual exclusion emits O(n^2) clauses but no new variables, which
// wins for small n. Above the threshold the linear-size decision diagram
// encoding wins.
const pairwiseThreshold = 5

// AtMostOne builds "at most one of lits is true".
func (c *Clauses) AtMostOne(lits []int, polarity Polarity) int {
	if len(lits) < pairwiseThreshold {
		return c.atMostOnePairwise(lits, polarity)
	}
	terms := make([]Term, len(lits))
	for i, f := range lits {
		terms[i] = Term{Coeff: 1, Lit: f}
	}
	return c.LinearBound(terms, 0, 1, polarity)
}

func (c *Clauses) atMostOnePairwise(lits []int, polarity Polarity) int {
	combos := make([]int, 0, len(lits)*(len(lits)-1)/2)
	for i := range lits {
		for j := i + 1; j < len(lits); j++ {
			combos = append(combos, c.Or(c.Not(lits[i]), c.Not(lits[j]), polarity))
		}
	}
	return c.All(combos, polarity)
}

// ExactlyOne builds "exactly one of lits is true".
func (c *Clauses) ExactlyOne(lits []int, polarity Polarity) int {
	if len(lits) < pairwiseThreshold {
		return c.And(c.atMostOnePairwise(lits, polarity), c.Any(lits, polarity), polarity)
	}
	terms := make([]Term, len(lits))
	for i, f := range lits {
		terms[i] = Term{Coeff: 1, Lit: f}
	}
	return c.LinearBound(terms, 1, 1, polarity)
}

// lbPreprocess folds constant literals into an offset, flips negative
// coefficients onto negated literals, and sorts ascending by coefficient so
// the decision diagram branches on the largest remaining term.
func lbPreprocess(terms []Term) ([]Term, int) {
	out := make([]Term, 0, len(terms))
	offset := 0
	for _, t := range terms {
		switch {
		case t.Coeff == 0 || t.Lit == LitFalse:
			// contributes nothing
		case t.Lit == LitTrue:
			offset += t.Coeff
		case t.Coeff < 0:
			// c*x == c + (-c)*(NOT x)
			offset += t.Coeff
			out = append(out, Term{Coeff: -t.Coeff, Lit: -t.Lit})
		default:
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coeff != out[j].Coeff {
			return out[i].Coeff < out[j].Coeff
		}
		return out[i].Lit < out[j].Lit
	})
	return out, offset
}

// LinearBound builds "lo <= sum(coeff_i * lit_i) <= hi" as a memoized
// partial-sum decision diagram. It returns LitTrue or LitFalse directly when
// the bound is unconditionally satisfied or violated, without emitting
// anything.
func (c *Clauses) LinearBound(terms []Term, lo, hi int, polarity Polarity) int {
	terms, offset := lbPreprocess(terms)
	lo -= offset
	hi -= offset

	// prefix[i] is the sum of the first i coefficients.
	prefix := make([]int, len(terms)+1)
	for i, t := range terms {
		prefix[i+1] = prefix[i] + t.Coeff
	}

	memo := map[[2]int]int{}
	var build func(ndx, csum int) int
	build = func(ndx, csum int) int {
		total := prefix[ndx+1]
		if lo-csum <= 0 && hi-csum >= total {
			return LitTrue
		}
		if lo-csum > total || hi-csum < 0 {
			return LitFalse
		}
		key := [2]int{ndx, csum}
		if x, ok := memo[key]; ok {
			return x
		}
		t := terms[ndx]
		cond, thenSum, elseSum := t.Lit, csum+t.Coeff, csum
		if t.Lit < 0 {
			cond = -t.Lit
			thenSum, elseSum = csum, csum+t.Coeff
		}
		x := c.ITE(cond, build(ndx-1, thenSum), build(ndx-1, elseSum), polarity)
		memo[key] = x
		return x
	}
	return build(len(terms)-1, 0)
}

// Require asserts the formula built by build. Clauses generated while
// building a formula that collapses to a constant are discarded; a formula
// that collapses to false records the contradiction as the clause pair
// (1) (-1) so any downstream solve is unsatisfiable.
func (c *Clauses) Require(build func(Polarity) int) {
	c.assertFormula(build, true)
}

// Prevent asserts the negation of the formula built by build.
func (c *Clauses) Prevent(build func(Polarity) int) {
	c.assertFormula(build, false)
}

func (c *Clauses) assertFormula(build func(Polarity) int, value bool) {
	polarity := PolarityPositive
	if !value {
		polarity = PolarityNegative
	}
	mark := c.Mark()
	x := build(polarity)
	if !value {
		x = c.Not(x)
	}
	switch x {
	case LitTrue:
		c.Restore(mark)
	case LitFalse:
		c.Restore(mark)
		if c.m == 0 {
			c.m = 1
		}
		c.AddClause(1)
		c.AddClause(-1)
		c.unsat = true
	default:
		c.AddClause(x)
	}
}

// Evaluate reports the value of lit under a model indexed by variable-1.
// Variables beyond the model (allocated but unconstrained) read as false.
func Evaluate(model []bool, lit int) bool {
	switch lit {
	case LitTrue:
		return true
	case LitFalse:
		return false
	}
	v := lit
	if v < 0 {
		v = -v
	}
	val := v-1 < len(model) && model[v-1]
	if lit < 0 {
		return !val
	}
	return val
}

// EvaluateTerms sums the coefficients of the terms whose literals hold under
// model.
func EvaluateTerms(model []bool, terms []Term) int {
	sum := 0
	for _, t := range terms {
		if Evaluate(model, t.Lit) {
			sum += t.Coeff
		}
	}
	return sum
}
