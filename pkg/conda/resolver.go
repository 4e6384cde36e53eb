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
	"context"
	"fmt"
	"sort"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"chainguard.dev/gonda/pkg/sat"
)

// DepsModifier alters how requested, historic and installed specs merge
// into the root spec set.
type DepsModifier int

const (
	DepsDefault DepsModifier = iota
	// NoDeps pulls in nothing for dependencies; installed packages stay
	// selected at their current records.
	NoDeps
	// OnlyDeps installs dependencies of the requested packages but not the
	// requested packages themselves.
	OnlyDeps
	// UpdateDeps drops version pins from history specs that are
	// dependencies of the requested packages, letting them float.
	UpdateDeps
	// UpdateAll drops version pins from all history specs, keeping only
	// their names.
	UpdateAll
	// FreezeInstalled pins every currently installed package to its exact
	// current record.
	FreezeInstalled
)

// SolveRequest is the input to one resolution. Spec strings are raw; they
// are parsed up front and parse errors surface immediately.
type SolveRequest struct {
	// Install are the specs explicitly requested now; always mandatory.
	Install []string
	// Remove names packages to exclude from the solution entirely.
	Remove []string
	// History are specs explicitly requested in earlier resolves. They stay
	// mandatory ("sticky") unless removed now or overridden by Install.
	History []string
	// Pinned constrain the records allowed for their names without pulling
	// those packages into the solution, unless IgnorePinned is set.
	Pinned []string
	// Installed is the current environment contents, used by
	// FreezeInstalled and by the churn objective.
	Installed []*PackageRecord

	Modifier       DepsModifier
	ForceReinstall bool
	IgnorePinned   bool
	// Prune demotes history specs to optional, so packages only they
	// require can drop out of the solution.
	Prune bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithObjectives overrides the lexicographic optimization order. The
// objectives are applied strictly in the given order.
func WithObjectives(objectives ...Objective) ResolverOption {
	return func(r *Resolver) { r.objectives = objectives }
}

// Resolver translates match specifications plus an index into a concrete,
// consistent set of records. It is created with NewResolver and holds the
// index, the injected SAT oracle and the objective order; if the index
// changes, create a new Resolver.
type Resolver struct {
	index      *Index
	oracle     sat.Oracle
	objectives []Objective
}

// NewResolver creates a Resolver over index, solving with oracle.
func NewResolver(index *Index, oracle sat.Oracle, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		index:      index,
		oracle:     oracle,
		objectives: DefaultObjectives(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rootSpecs struct {
	mandatory []*MatchSpec
	optional  []*MatchSpec
	pinned    []*MatchSpec
	excluded  map[string]bool
}

// Solve resolves the request to an ordered record selection: exactly one
// record per required name, all constraints and transitive dependencies
// satisfied, optimized under the resolver's objective order and
// deterministic across reruns.
func (r *Resolver) Solve(ctx context.Context, req SolveRequest) ([]*PackageRecord, error) {
	ctx, span := otel.Tracer("gonda").Start(ctx, "Solve")
	defer span.End()
	log := clog.FromContext(ctx)

	roots, err := r.mergeRootSpecs(req)
	if err != nil {
		return nil, err
	}
	log.Debugf("solving %d mandatory and %d optional specs", len(roots.mandatory), len(roots.optional))

	closure, err := r.expandClosure(ctx, roots, req.Modifier)
	if err != nil {
		return nil, err
	}

	enc := r.encode(closure, roots, req.Modifier)
	if err := r.checkFeasibility(roots, enc); err != nil {
		return nil, err
	}

	model, status := r.oracle.Solve(ctx, enc.c.Clauses(), enc.c.NumVars())
	switch status {
	case sat.Unsatisfiable:
		return nil, r.explainConflict(ctx, roots, req)
	case sat.Undetermined:
		return nil, ErrUndetermined
	}

	model = r.optimize(ctx, enc, closure, req, model)

	return r.materialize(enc, model, roots, req), nil
}

// mergeRootSpecs merges install, removal, history, pinned and installed
// specs into the mandatory/optional root sets.
func (r *Resolver) mergeRootSpecs(req SolveRequest) (rootSpecs, error) {
	roots := rootSpecs{excluded: map[string]bool{}}

	for _, raw := range req.Remove {
		spec, err := ParseMatchSpec(raw)
		if err != nil {
			return roots, &SpecError{raw, err}
		}
		roots.excluded[spec.Name] = true
	}

	installNames := map[string]bool{}
	seen := map[string]bool{}
	addMandatory := func(spec *MatchSpec) {
		if seen[spec.String()] {
			return
		}
		seen[spec.String()] = true
		roots.mandatory = append(roots.mandatory, spec)
	}

	for _, raw := range req.Install {
		spec, err := ParseMatchSpec(raw)
		if err != nil {
			return roots, &SpecError{raw, err}
		}
		if roots.excluded[spec.Name] {
			return roots, &SpecError{raw, fmt.Errorf("requested for both install and removal")}
		}
		installNames[spec.Name] = true
		addMandatory(spec)
	}

	// UpdateDeps relaxes only history specs that the requested packages
	// depend on, so work out those names first.
	var depNames map[string]bool
	if req.Modifier == UpdateDeps {
		depNames = r.dependencyNames(roots.mandatory)
	}

	for _, raw := range req.History {
		spec, err := ParseMatchSpec(raw)
		if err != nil {
			return roots, &SpecError{raw, err}
		}
		if roots.excluded[spec.Name] || installNames[spec.Name] {
			continue
		}
		switch {
		case req.Modifier == UpdateAll,
			req.Modifier == UpdateDeps && depNames[spec.Name]:
			// keep only the name; let the version float
			nameOnly, err := ParseMatchSpec(spec.Name)
			if err != nil {
				return roots, &SpecError{raw, err}
			}
			spec = nameOnly
		}
		if req.Prune {
			roots.optional = append(roots.optional, spec)
			continue
		}
		addMandatory(spec)
	}

	if !req.IgnorePinned {
		for _, raw := range req.Pinned {
			spec, err := ParseMatchSpec(raw)
			if err != nil {
				return roots, &SpecError{raw, err}
			}
			if roots.excluded[spec.Name] {
				continue
			}
			roots.pinned = append(roots.pinned, spec)
		}
	}

	switch req.Modifier {
	case FreezeInstalled:
		for _, rec := range req.Installed {
			if roots.excluded[rec.Name] || installNames[rec.Name] {
				continue
			}
			addMandatory(specFromRecord(rec))
		}
	case NoDeps:
		// installed packages are kept even though nothing new is pulled in
		for _, rec := range req.Installed {
			if roots.excluded[rec.Name] || installNames[rec.Name] {
				continue
			}
			if _, ok := r.index.Get(rec.Key()); !ok {
				// not re-selectable from any channel; leave it alone
				continue
			}
			addMandatory(specFromRecord(rec))
		}
	}

	return roots, nil
}

// dependencyNames walks the name-level dependency graph reachable from the
// given specs.
func (r *Resolver) dependencyNames(specs []*MatchSpec) map[string]bool {
	visited := map[string]bool{}
	var queue []string
	for _, spec := range specs {
		for _, name := range r.namesForSpec(spec) {
			if !visited[name] {
				visited[name] = true
				queue = append(queue, name)
			}
		}
	}
	deps := map[string]bool{}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, key := range r.index.Group(name) {
			rec, _ := r.index.Get(key)
			for _, depRaw := range rec.Depends {
				depSpec, err := cachedParseMatchSpec(depRaw)
				if err != nil {
					continue
				}
				for _, depName := range r.namesForSpec(depSpec) {
					deps[depName] = true
					if !visited[depName] {
						visited[depName] = true
						queue = append(queue, depName)
					}
				}
			}
		}
	}
	return deps
}

// namesForSpec returns the package names a spec can refer to: the literal
// name, or for pattern names the names of all matching records.
func (r *Resolver) namesForSpec(spec *MatchSpec) []string {
	if spec.nameRe == nil && spec.Name != "*" {
		return []string{spec.Name}
	}
	seen := map[string]bool{}
	var names []string
	for _, key := range r.index.FindMatches(spec) {
		rec, _ := r.index.Get(key)
		if !seen[rec.Name] {
			seen[rec.Name] = true
			names = append(names, rec.Name)
		}
	}
	return names
}

// expandClosure computes the transitive candidate universe: starting from
// every record that could satisfy a root spec, pull in the full version
// group of every name any candidate's dependencies mention, to a fixed
// point. A name already present stops expansion along that branch, which
// also makes dependency cycles safe. Constraint enforcement happens later
// in clauses; the closure deliberately keeps whole groups.
func (r *Resolver) expandClosure(ctx context.Context, roots rootSpecs, modifier DepsModifier) (map[string][]RecordKey, error) {
	_, span := otel.Tracer("gonda").Start(ctx, "expandClosure")
	defer span.End()

	closure := map[string][]RecordKey{}
	var queue []string

	addName := func(name string) {
		if _, ok := closure[name]; ok {
			return
		}
		if roots.excluded[name] {
			closure[name] = nil
			return
		}
		closure[name] = r.index.Group(name)
		queue = append(queue, name)
	}

	for _, spec := range roots.mandatory {
		matches := r.findAllowed(spec, roots.excluded)
		if len(matches) == 0 {
			return nil, &NoCandidatesError{Spec: spec}
		}
		for _, name := range r.namesForSpec(spec) {
			if !roots.excluded[name] {
				addName(name)
			}
		}
	}
	for _, spec := range roots.optional {
		for _, name := range r.namesForSpec(spec) {
			if !roots.excluded[name] {
				addName(name)
			}
		}
	}

	if modifier == NoDeps {
		return closure, nil
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, key := range closure[name] {
			rec, _ := r.index.Get(key)
			for _, depRaw := range rec.Depends {
				depSpec, err := cachedParseMatchSpec(depRaw)
				if err != nil {
					return nil, &SpecError{depRaw, fmt.Errorf("invalid dependency of %s: %w", rec.Filename(), err)}
				}
				// a dependency name entirely absent from the index still
				// enters the closure as an empty group, so the dependent
				// record is provably infeasible
				for _, depName := range r.namesForSpec(depSpec) {
					addName(depName)
				}
			}
		}
	}
	return closure, nil
}

func (r *Resolver) findAllowed(spec *MatchSpec, excluded map[string]bool) []RecordKey {
	matches := r.index.FindMatches(spec)
	if len(excluded) == 0 {
		return matches
	}
	allowed := make([]RecordKey, 0, len(matches))
	for _, key := range matches {
		rec, _ := r.index.Get(key)
		if !excluded[rec.Name] {
			allowed = append(allowed, key)
		}
	}
	return allowed
}

type encoding struct {
	c    *sat.Clauses
	lits map[RecordKey]int
	// order is the deterministic key enumeration the rest of the solve
	// iterates in
	order []RecordKey
	// infeasible maps records forced false to the dependency spec that had
	// no candidates
	infeasible map[RecordKey]*MatchSpec
}

// encode translates the closure into CNF: at most one record per name, a
// selected record implies a satisfying candidate for each of its
// dependencies, and every mandatory root spec has at least one match
// selected. Optional specs never force a selection; they only influence
// ranking. Pinned specs rule out non-matching records of their names.
func (r *Resolver) encode(closure map[string][]RecordKey, roots rootSpecs, modifier DepsModifier) *encoding {
	enc := &encoding{
		c:          sat.NewClauses(),
		lits:       map[RecordKey]int{},
		infeasible: map[RecordKey]*MatchSpec{},
	}
	c := enc.c

	names := make([]string, 0, len(closure))
	for name := range closure {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, key := range closure[name] {
			lit := c.NewVar(string(key))
			enc.lits[key] = lit
			enc.order = append(enc.order, key)
		}
	}

	inClosure := func(key RecordKey) bool {
		_, ok := enc.lits[key]
		return ok
	}

	for _, name := range names {
		keys := closure[name]
		if len(keys) < 2 {
			continue
		}
		lits := make([]int, len(keys))
		for i, key := range keys {
			lits[i] = enc.lits[key]
		}
		c.Require(func(p sat.Polarity) int { return c.AtMostOne(lits, p) })
	}

	if modifier != NoDeps {
		for _, key := range enc.order {
			rec, _ := r.index.Get(key)
			lit := enc.lits[key]
			for _, depRaw := range rec.Depends {
				depSpec, err := cachedParseMatchSpec(depRaw)
				if err != nil {
					// closure expansion already vetted every dependency
					continue
				}
				clause := []int{-lit}
				for _, depKey := range r.index.FindMatches(depSpec) {
					if inClosure(depKey) {
						clause = append(clause, enc.lits[depKey])
					}
				}
				if len(clause) == 1 {
					// no viable candidate for this dependency anywhere in
					// the closure: the record itself is infeasible
					c.AddClause(-lit)
					if _, ok := enc.infeasible[key]; !ok {
						enc.infeasible[key] = depSpec
					}
					continue
				}
				c.AddClause(clause...)
			}
		}
	}

	for _, spec := range roots.mandatory {
		var lits []int
		for _, key := range r.index.FindMatches(spec) {
			if inClosure(key) {
				lits = append(lits, enc.lits[key])
			}
		}
		if len(lits) == 0 {
			// all matches were excluded by removals; contradiction
			c.Require(func(sat.Polarity) int { return sat.LitFalse })
			continue
		}
		c.AddClause(lits...)
	}

	// pins constrain a name's allowed records without forcing the name into
	// the solution
	for _, spec := range roots.pinned {
		allowed := map[RecordKey]bool{}
		for _, key := range r.index.FindMatches(spec) {
			allowed[key] = true
		}
		for _, name := range r.namesForSpec(spec) {
			for _, key := range closure[name] {
				if !allowed[key] {
					c.AddClause(-enc.lits[key])
				}
			}
		}
	}

	return enc
}

// checkFeasibility reports a no-candidates error when every match of a
// mandatory spec was individually proven infeasible during encoding. This
// catches the common "dependency chain dead-ends" case before SAT solving
// and points at the actual missing dependency rather than the root spec.
func (r *Resolver) checkFeasibility(roots rootSpecs, enc *encoding) error {
	for _, spec := range roots.mandatory {
		var alive int
		var firstDead RecordKey
		for _, key := range enc.order {
			if _, ok := enc.infeasible[key]; ok {
				if firstDead == "" {
					rec, _ := r.index.Get(key)
					if spec.Match(rec) {
						firstDead = key
					}
				}
				continue
			}
			rec, _ := r.index.Get(key)
			if spec.Match(rec) {
				alive++
				break
			}
		}
		if alive == 0 && firstDead != "" {
			rec, _ := r.index.Get(firstDead)
			return &NoCandidatesError{Spec: enc.infeasible[firstDead], Parent: rec}
		}
	}
	return nil
}

// explainConflict recomputes satisfiability over subsets of the mandatory
// root specs to find a minimal conflicting subset. This works at the spec
// level, not the clause level, so the result reads as "these requests
// cannot hold together".
func (r *Resolver) explainConflict(ctx context.Context, roots rootSpecs, req SolveRequest) error {
	ctx, span := otel.Tracer("gonda").Start(ctx, "explainConflict")
	defer span.End()

	mus := sat.MinimalUnsatisfiableSubset(roots.mandatory, func(subset []*MatchSpec) bool {
		sub := rootSpecs{mandatory: subset, optional: roots.optional, pinned: roots.pinned, excluded: roots.excluded}
		closure, err := r.expandClosure(ctx, sub, req.Modifier)
		if err != nil {
			return false
		}
		enc := r.encode(closure, sub, req.Modifier)
		if enc.c.Unsat() {
			return false
		}
		_, status := r.oracle.Solve(ctx, enc.c.Clauses(), enc.c.NumVars())
		return status == sat.Satisfiable
	})
	return &UnsatisfiableError{Specs: mus}
}

// materialize translates the model's true literals back into records,
// ordered by name for determinism. Under OnlyDeps the requested packages
// themselves are omitted.
func (r *Resolver) materialize(enc *encoding, model []bool, roots rootSpecs, req SolveRequest) []*PackageRecord {
	dropNames := map[string]bool{}
	if req.Modifier == OnlyDeps {
		for _, raw := range req.Install {
			if spec, err := cachedParseMatchSpec(raw); err == nil {
				for _, name := range r.namesForSpec(spec) {
					dropNames[name] = true
				}
			}
		}
	}

	var selected []*PackageRecord
	for _, key := range enc.order {
		if !sat.Evaluate(model, enc.lits[key]) {
			continue
		}
		rec, _ := r.index.Get(key)
		if dropNames[rec.Name] {
			continue
		}
		selected = append(selected, rec)
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Name != selected[j].Name {
			return selected[i].Name < selected[j].Name
		}
		return selected[i].Key() < selected[j].Key()
	})
	return selected
}
