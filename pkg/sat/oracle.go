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
	"context"

	"github.com/crillab/gophersat/solver"
)

// Status is the outcome of one oracle invocation. Undetermined is distinct
// from Unsatisfiable: it means the solver gave up, not that no solution
// exists.
type Status int

const (
	Satisfiable Status = iota
	Unsatisfiable
	Undetermined
)

func (s Status) String() string {
	switch s {
	case Satisfiable:
		return "satisfiable"
	case Unsatisfiable:
		return "unsatisfiable"
	case Undetermined:
		return "undetermined"
	}
	return "unknown"
}

// Oracle answers boolean satisfiability queries. The clause list is a
// conjunction of disjunctions of nonzero signed literals. On Satisfiable the
// returned model is indexed by variable-1 and has length nvars. Calls are
// stateless and independent; implementations must not retain the clause
// slice.
//
// Any conforming SAT solver can stand behind this interface; it is the
// resolver's single most important seam.
type Oracle interface {
	Solve(ctx context.Context, clauses [][]int, nvars int) ([]bool, Status)
}

type gophersat struct{}

// NewGophersat returns the default Oracle, backed by the gophersat CDCL
// solver.
func NewGophersat() Oracle { return gophersat{} }

func (gophersat) Solve(ctx context.Context, clauses [][]int, nvars int) ([]bool, Status) {
	if err := ctx.Err(); err != nil {
		return nil, Undetermined
	}
	if len(clauses) == 0 {
		return make([]bool, nvars), Satisfiable
	}
	pb := solver.ParseSlice(clauses)
	s := solver.New(pb)
	switch s.Solve() {
	case solver.Sat:
		model := s.Model()
		if len(model) < nvars {
			// variables that never reached a clause are unconstrained;
			// read them as false
			padded := make([]bool, nvars)
			copy(padded, model)
			model = padded
		}
		return model, Satisfiable
	case solver.Unsat:
		return nil, Unsatisfiable
	default:
		return nil, Undetermined
	}
}
