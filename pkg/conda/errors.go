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
	"errors"
	"fmt"
	"strings"
)

// ErrUndetermined reports that the solver gave up before proving either
// satisfiability or unsatisfiability. Callers must be able to tell this
// apart from "no solution exists".
var ErrUndetermined = errors.New("satisfiability undetermined: solver gave up")

// NoCandidatesError reports a spec that matches zero records in the index.
// It is detected during closure expansion, before any SAT solving, so it
// pinpoints exactly which name has no viable package at all. Parent is the
// record whose dependency produced the spec, or nil for a root spec.
type NoCandidatesError struct {
	Spec   *MatchSpec
	Parent *PackageRecord
}

func (e *NoCandidatesError) Error() string {
	if e.Parent != nil {
		return fmt.Sprintf("nothing provides %q needed by %q", e.Spec, e.Parent.Filename())
	}
	return fmt.Sprintf("nothing provides %q", e.Spec)
}

// UnsatisfiableError reports that no assignment satisfies all hard
// constraints together. Specs carries a minimal conflicting subset of the
// requested specs, not a raw clause dump.
type UnsatisfiableError struct {
	Specs []*MatchSpec
}

func (e *UnsatisfiableError) Error() string {
	specs := make([]string, len(e.Specs))
	for i, s := range e.Specs {
		specs[i] = fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("the following specifications cannot be satisfied together: %s (try relaxing one of them)",
		strings.Join(specs, ", "))
}

// SpecError wraps a failure attributable to one requested spec string, in
// the same shape the rest of the taxonomy uses.
type SpecError struct {
	Spec    string
	Wrapped error
}

func (e *SpecError) Unwrap() error { return e.Wrapped }

func (e *SpecError) Error() string {
	return fmt.Sprintf("solving %q: %s", e.Spec, e.Wrapped.Error())
}
