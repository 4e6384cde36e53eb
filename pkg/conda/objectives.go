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
	"sort"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"chainguard.dev/gonda/pkg/sat"
)

// Objective identifies one minimization criterion. Objectives apply
// lexicographically: each one is minimized to its optimum and locked in
// before the next is considered.
type Objective int

const (
	// ObjectiveTrackFeatures minimizes the number of tracked features
	// brought into the environment.
	ObjectiveTrackFeatures Objective = iota
	// ObjectiveFeatureMismatch minimizes selected records carrying features
	// that no selected record tracks.
	ObjectiveFeatureMismatch
	// ObjectivePriority prefers records from higher priority channels; a
	// lower Priority value wins.
	ObjectivePriority
	// ObjectiveVersion prefers newer versions: each record's weight is its
	// version's distance from the newest version of its name.
	ObjectiveVersion
	// ObjectiveBuild breaks version ties toward higher build numbers.
	ObjectiveBuild
	// ObjectiveChanges minimizes churn against the installed environment.
	ObjectiveChanges
	// ObjectiveCount minimizes the total number of selected records, so
	// nothing rides along that no constraint asked for.
	ObjectiveCount
)

func (o Objective) String() string {
	switch o {
	case ObjectiveTrackFeatures:
		return "track-features"
	case ObjectiveFeatureMismatch:
		return "feature-mismatch"
	case ObjectivePriority:
		return "channel-priority"
	case ObjectiveVersion:
		return "version"
	case ObjectiveBuild:
		return "build"
	case ObjectiveChanges:
		return "changes"
	case ObjectiveCount:
		return "count"
	}
	return "unknown"
}

// DefaultObjectives is the standard optimization order.
func DefaultObjectives() []Objective {
	return []Objective{
		ObjectiveTrackFeatures,
		ObjectiveFeatureMismatch,
		ObjectivePriority,
		ObjectiveVersion,
		ObjectiveBuild,
		ObjectiveChanges,
		ObjectiveCount,
	}
}

// optimize refines an initial satisfying model by minimizing each
// objective in turn. Every optimum is asserted permanently so later
// objectives cannot regress earlier ones. If the oracle comes back
// undetermined mid-ladder the best model found so far is kept.
func (r *Resolver) optimize(ctx context.Context, enc *encoding, closure map[string][]RecordKey, req SolveRequest, model []bool) []bool {
	ctx, span := otel.Tracer("gonda").Start(ctx, "optimize")
	defer span.End()
	log := clog.FromContext(ctx)

	for _, obj := range r.objectives {
		if obj == ObjectiveChanges && req.ForceReinstall {
			continue
		}
		terms := r.objectiveTerms(obj, enc, closure, req, model)
		if len(terms) == 0 {
			continue
		}
		best, bestVal, done := r.minimizeObjective(ctx, enc, terms, model)
		model = best
		if !done {
			log.Warnf("objective %s: solver undetermined, keeping best value %d", obj, bestVal)
			break
		}
		log.Debugf("objective %s: optimum %d over %d terms", obj, bestVal, len(terms))
	}
	return model
}

// minimizeObjective bisects on the objective value: each trial adds a
// temporary cardinality bound, solves, and either tightens the upper bound
// with the achieved value or raises the lower bound past the failed trial.
// The final optimum is asserted permanently.
func (r *Resolver) minimizeObjective(ctx context.Context, enc *encoding, terms []sat.Term, model []bool) ([]bool, int, bool) {
	c := enc.c
	best := model
	bestVal := sat.EvaluateTerms(best, terms)
	lo := 0

	for lo < bestVal {
		mid := lo + (bestVal-lo)/2
		mark := c.Mark()
		c.Require(func(p sat.Polarity) int { return c.LinearBound(terms, lo, mid, p) })
		trial, status := r.oracle.Solve(ctx, c.Clauses(), c.NumVars())
		c.Restore(mark)

		switch status {
		case sat.Satisfiable:
			best = trial
			bestVal = sat.EvaluateTerms(best, terms)
		case sat.Unsatisfiable:
			lo = mid + 1
		default:
			return best, bestVal, false
		}
	}

	c.Require(func(p sat.Polarity) int { return c.LinearBound(terms, 0, bestVal, p) })
	return best, bestVal, true
}

// objectiveTerms builds the weighted literal sum for one objective. Term
// order follows enc.order, so the encoding is deterministic.
func (r *Resolver) objectiveTerms(obj Objective, enc *encoding, closure map[string][]RecordKey, req SolveRequest, model []bool) []sat.Term {
	switch obj {
	case ObjectiveTrackFeatures:
		return r.trackFeatureTerms(enc)
	case ObjectiveFeatureMismatch:
		return r.featureMismatchTerms(enc, model)
	case ObjectivePriority:
		return r.rankTerms(enc, closure, func(a, b *PackageRecord) int {
			return b.Priority - a.Priority
		})
	case ObjectiveVersion:
		return r.rankTerms(enc, closure, func(a, b *PackageRecord) int {
			return a.VersionOrder().Compare(b.VersionOrder())
		})
	case ObjectiveBuild:
		return r.rankTerms(enc, closure, func(a, b *PackageRecord) int {
			if cmp := a.VersionOrder().Compare(b.VersionOrder()); cmp != 0 {
				return cmp
			}
			return a.BuildNumber - b.BuildNumber
		})
	case ObjectiveChanges:
		return r.changeTerms(enc, req)
	case ObjectiveCount:
		terms := make([]sat.Term, 0, len(enc.order))
		for _, key := range enc.order {
			terms = append(terms, sat.Term{Coeff: 1, Lit: enc.lits[key]})
		}
		return terms
	}
	return nil
}

func (r *Resolver) trackFeatureTerms(enc *encoding) []sat.Term {
	var terms []sat.Term
	for _, key := range enc.order {
		rec, _ := r.index.Get(key)
		if n := len(rec.TrackFeatures); n > 0 {
			terms = append(terms, sat.Term{Coeff: n, Lit: enc.lits[key]})
		}
	}
	return terms
}

// featureMismatchTerms weighs each record by how many of its features are
// not tracked by anything in the current model. The active feature set is
// snapshotted from the model before this objective runs.
func (r *Resolver) featureMismatchTerms(enc *encoding, model []bool) []sat.Term {
	active := map[string]bool{}
	for _, key := range enc.order {
		if !sat.Evaluate(model, enc.lits[key]) {
			continue
		}
		rec, _ := r.index.Get(key)
		for _, f := range rec.TrackFeatures {
			active[f] = true
		}
	}

	var terms []sat.Term
	for _, key := range enc.order {
		rec, _ := r.index.Get(key)
		var n int
		for _, f := range rec.Features {
			if !active[f] {
				n++
			}
		}
		if n > 0 {
			terms = append(terms, sat.Term{Coeff: n, Lit: enc.lits[key]})
		}
	}
	return terms
}

// rankTerms weighs each record by its rank under cmp within its name
// group, best first. Records that compare equal share a rank, so two
// builds of the same version cost the same under the version objective.
func (r *Resolver) rankTerms(enc *encoding, closure map[string][]RecordKey, cmp func(a, b *PackageRecord) int) []sat.Term {
	rank := map[RecordKey]int{}

	names := make([]string, 0, len(closure))
	for name := range closure {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		keys := closure[name]
		if len(keys) < 2 {
			continue
		}
		sorted := make([]RecordKey, len(keys))
		copy(sorted, keys)
		sort.SliceStable(sorted, func(i, j int) bool {
			a, _ := r.index.Get(sorted[i])
			b, _ := r.index.Get(sorted[j])
			if c := cmp(a, b); c != 0 {
				return c > 0
			}
			return sorted[i] < sorted[j]
		})
		cur := 0
		for i, key := range sorted {
			if i > 0 {
				prev, _ := r.index.Get(sorted[i-1])
				rec, _ := r.index.Get(key)
				if cmp(prev, rec) != 0 {
					cur++
				}
			}
			if cur > 0 {
				rank[key] = cur
			}
		}
	}

	var terms []sat.Term
	for _, key := range enc.order {
		if w := rank[key]; w > 0 {
			terms = append(terms, sat.Term{Coeff: w, Lit: enc.lits[key]})
		}
	}
	return terms
}

// changeTerms charges one unit for every candidate that differs from what
// is installed under the same name. Spec targets count as installed, so a
// spec carrying target=<key> pulls the solution toward that record.
func (r *Resolver) changeTerms(enc *encoding, req SolveRequest) []sat.Term {
	current := map[string]RecordKey{}
	for _, rec := range req.Installed {
		current[rec.Name] = rec.Key()
	}
	for _, raw := range req.Install {
		spec, err := cachedParseMatchSpec(raw)
		if err != nil || spec.Target == "" {
			continue
		}
		current[spec.Name] = RecordKey(spec.Target)
	}

	var terms []sat.Term
	for _, key := range enc.order {
		rec, _ := r.index.Get(key)
		want, ok := current[rec.Name]
		if !ok || want == key {
			continue
		}
		terms = append(terms, sat.Term{Coeff: 1, Lit: enc.lits[key]})
	}
	return terms
}
