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
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ErrMalformedVersion wraps every version parse failure.
var ErrMalformedVersion = errors.New("malformed version string")

var (
	versionCheckRe = regexp.MustCompile(`^[\*\.\+!_0-9a-z]+$`)
	versionSplitRe = regexp.MustCompile(`([0-9]+|[^0-9]+)`)

	parsedVersions sync.Map // map[string]*VersionOrder
)

// A versionToken is one run of digits or non-digits within a version
// component. Numeric tokens compare numerically; string tokens compare
// lexically and sort below every number. Two sentinels bend that rule:
// "post" becomes a numeric infinity (sorts after everything) and "dev"
// becomes the upper-cased string "DEV", which sorts below all ordinary
// lower-cased strings and, being a string, below all numbers.
type versionToken struct {
	num   int64
	str   string
	isNum bool
	inf   bool
}

var zeroToken = versionToken{isNum: true}

type versionComponent []versionToken

// VersionOrder parses and totally orders package version strings. The
// scheme is PEP-440-like: an optional integer epoch separated by "!", dotted
// (or underscored) components of mixed digit/letter runs, and an optional
// local version separated by "+". Comparison is case-insensitive and
// tolerant of trailing zeros: "1.1" == "1.1.0".
type VersionOrder struct {
	norm    string
	epoch   int64
	version []versionComponent
	local   []versionComponent
}

// ParseVersion parses a version string, or fails with an error wrapping
// ErrMalformedVersion when the string is empty, contains disallowed
// characters, or duplicates the epoch or local separators.
func ParseVersion(s string) (*VersionOrder, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedVersion)
	}
	if !versionCheckRe.MatchString(norm) {
		return nil, fmt.Errorf("%w %q: invalid character(s)", ErrMalformedVersion, s)
	}

	v := &VersionOrder{norm: norm}

	// local version
	parts := strings.Split(norm, "+")
	switch {
	case len(parts) > 2:
		return nil, fmt.Errorf("%w %q: duplicated local version separator '+'", ErrMalformedVersion, s)
	case parts[len(parts)-1] == "":
		return nil, fmt.Errorf("%w %q: empty local version", ErrMalformedVersion, s)
	case len(parts) == 2:
		local, err := splitComponents(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrMalformedVersion, s, err)
		}
		v.local = local
	}

	// epoch
	main := parts[0]
	fields := strings.Split(main, "!")
	switch len(fields) {
	case 1:
	case 2:
		epoch, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w %q: epoch must be an integer", ErrMalformedVersion, s)
		}
		v.epoch = epoch
		main = fields[1]
	default:
		return nil, fmt.Errorf("%w %q: duplicated epoch separator '!'", ErrMalformedVersion, s)
	}

	version, err := splitComponents(main)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrMalformedVersion, s, err)
	}
	v.version = version
	return v, nil
}

// cachedParseVersion memoizes ParseVersion; version strings repeat heavily
// across an index.
func cachedParseVersion(s string) (*VersionOrder, error) {
	if v, ok := parsedVersions.Load(s); ok {
		return v.(*VersionOrder), nil
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return nil, err
	}
	parsedVersions.Store(s, parsed)
	return parsed, nil
}

func splitComponents(part string) ([]versionComponent, error) {
	comps := strings.Split(strings.ReplaceAll(part, "_", "."), ".")
	out := make([]versionComponent, len(comps))
	for i, comp := range comps {
		if comp == "" {
			return nil, errors.New("empty version component")
		}
		runs := versionSplitRe.FindAllString(comp, -1)
		tokens := make(versionComponent, 0, len(runs)+1)
		if comp[0] < '0' || comp[0] > '9' {
			// prepend a zero filler so that numbers and strings stay in
			// phase: "1.1.a1" reads as "1.1.0a1"
			tokens = append(tokens, zeroToken)
		}
		for _, run := range runs {
			switch {
			case run[0] >= '0' && run[0] <= '9':
				n, err := strconv.ParseInt(run, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("numeric component %q out of range", run)
				}
				tokens = append(tokens, versionToken{num: n, isNum: true})
			case run == "post":
				tokens = append(tokens, versionToken{isNum: true, inf: true})
			case run == "dev":
				tokens = append(tokens, versionToken{str: "DEV"})
			default:
				tokens = append(tokens, versionToken{str: run})
			}
		}
		out[i] = tokens
	}
	return out, nil
}

// String returns the normalized (lower-cased, trimmed) form.
func (v *VersionOrder) String() string { return v.norm }

// Compare returns -1, 0 or 1 ordering v against o. The order is total:
// epoch first, then the version components, then the local components,
// each compared lexicographically with zero filling.
func (v *VersionOrder) Compare(o *VersionOrder) int {
	if v.epoch != o.epoch {
		if v.epoch < o.epoch {
			return -1
		}
		return 1
	}
	if c := compareComponents(v.version, o.version); c != 0 {
		return c
	}
	return compareComponents(v.local, o.local)
}

// Equal reports order equivalence, not string equality: "0.4" equals
// "0.4.0".
func (v *VersionOrder) Equal(o *VersionOrder) bool { return v.Compare(o) == 0 }

func (v *VersionOrder) LessThan(o *VersionOrder) bool { return v.Compare(o) < 0 }

func compareComponents(a, b []versionComponent) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var ca, cb versionComponent
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		if c := compareComponent(ca, cb); c != 0 {
			return c
		}
	}
	return 0
}

func compareComponent(a, b versionComponent) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ta, tb := zeroToken, zeroToken
		if i < len(a) {
			ta = a[i]
		}
		if i < len(b) {
			tb = b[i]
		}
		if c := compareTokens(ta, tb); c != 0 {
			return c
		}
	}
	return 0
}

func compareTokens(a, b versionToken) int {
	switch {
	case a.isNum && b.isNum:
		switch {
		case a.inf && b.inf:
			return 0
		case a.inf:
			return 1
		case b.inf:
			return -1
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	case a.isNum:
		// string < int
		return 1
	case b.isNum:
		return -1
	}
	return strings.Compare(a.str, b.str)
}
