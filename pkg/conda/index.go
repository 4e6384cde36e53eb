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
	"sort"
	"sync"
)

// Index is the read-only universe of available records, keyed by canonical
// record key and grouped by package name. Build it once per resolve; if the
// record set changes, build a new Index.
type Index struct {
	records map[RecordKey]*PackageRecord
	groups  map[string][]RecordKey

	// matchCache memoizes FindMatches per normalized spec string. Matching
	// is pure given the immutable record set, so a sync.Map is all the
	// coordination concurrent callers need.
	matchCache sync.Map // map[string][]RecordKey
}

// BuildIndex indexes records by key and groups them by name. A duplicate
// key silently wins over its predecessor, mirroring how channel merges have
// always behaved.
func BuildIndex(records []*PackageRecord) *Index {
	ix := &Index{
		records: make(map[RecordKey]*PackageRecord, len(records)),
		groups:  map[string][]RecordKey{},
	}
	for _, rec := range records {
		key := rec.Key()
		if _, ok := ix.records[key]; !ok {
			ix.groups[rec.Name] = append(ix.groups[rec.Name], key)
		}
		ix.records[key] = rec
	}
	// deterministic group order regardless of input order
	for _, keys := range ix.groups {
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	}
	return ix
}

// Get returns the record for key.
func (ix *Index) Get(key RecordKey) (*PackageRecord, bool) {
	rec, ok := ix.records[key]
	return rec, ok
}

// Group returns the keys of every record named name.
func (ix *Index) Group(name string) []RecordKey {
	return ix.groups[name]
}

// Names returns all package names in the index, sorted.
func (ix *Index) Names() []string {
	names := make([]string, 0, len(ix.groups))
	for name := range ix.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of records.
func (ix *Index) Len() int { return len(ix.records) }

// FindMatches returns the keys of every record satisfying spec. For a
// literal name only that name's group is scanned; a pattern name scans the
// union of all groups whose name matches. Results are memoized by the
// spec's normalized string.
func (ix *Index) FindMatches(spec *MatchSpec) []RecordKey {
	if cached, ok := ix.matchCache.Load(spec.String()); ok {
		return cached.([]RecordKey)
	}
	var candidates []RecordKey
	if spec.nameRe == nil && spec.Name != "*" {
		candidates = ix.groups[spec.Name]
	} else {
		for _, name := range ix.Names() {
			if spec.nameRe == nil || spec.nameRe.MatchString(name) {
				candidates = append(candidates, ix.groups[name]...)
			}
		}
	}
	matches := make([]RecordKey, 0, len(candidates))
	for _, key := range candidates {
		if spec.Match(ix.records[key]) {
			matches = append(matches, key)
		}
	}
	ix.matchCache.Store(spec.String(), matches)
	return matches
}
