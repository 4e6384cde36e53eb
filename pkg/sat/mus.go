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

// MinimalUnsatisfiableSubset finds a subset of items that is unsatisfiable
// according to satisfies but whose every proper subset is satisfiable. The
// full item set must already be unsatisfiable. This is a diagnostic tool:
// the recursive bisection re-invokes the oracle O(n log n) times, which is
// acceptable on a failure path and never runs during a successful solve.
func MinimalUnsatisfiableSubset[T any](items []T, satisfies func([]T) bool) []T {
	sat := func(indices []int) bool {
		subset := make([]T, len(indices))
		for i, ix := range indices {
			subset[i] = items[ix]
		}
		return satisfies(subset)
	}

	var minimal func(ii, include []int) []int
	minimal = func(ii, include []int) []int {
		if len(ii) == 1 {
			return ii
		}
		a, b := ii[:len(ii)/2], ii[len(ii)/2:]
		if !sat(concat(a, include)) {
			return minimal(a, include)
		}
		if !sat(concat(b, include)) {
			return minimal(b, include)
		}
		// the conflict straddles the halves: minimize each side against
		// the other
		ma := minimal(a, concat(b, include))
		mb := minimal(b, concat(ma, include))
		return concat(ma, mb)
	}

	all := make([]int, len(items))
	for i := range items {
		all[i] = i
	}
	out := make([]T, 0, len(items))
	for _, ix := range minimal(all, nil) {
		out = append(out, items[ix])
	}
	return out
}

func concat(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
