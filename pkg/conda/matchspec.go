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

// ErrMalformedSpec wraps every match spec parse failure.
var ErrMalformedSpec = errors.New("malformed match spec")

var parsedSpecs sync.Map // map[string]*MatchSpec

// MatchSpec is a parsed predicate over package records.
//
// The textual grammar is:
//
//	<name> [<version-expr>] [<build> [<build-number>]] [(<key>=<value>,...)]
//
// where name may be an anchored regular expression (^...$) or "*", build may
// contain "*" globs, and the parenthesized parameters are name, version,
// build, build_number, channel, optional and target. The version expression
// comma-separates AND terms and pipe-separates OR alternatives within one
// AND term; each atom is a glob ("1.7*") or a relational operator (==, !=,
// <=, >=, <, >) applied to a parseable version.
//
// A bare version like "1.7" matches by exact version-order equality; prefix
// matching always takes an explicit "*". A spec with only a literal name
// matches every record of that name.
//
// Specs are immutable once parsed; their normalized String form defines
// equality and is safe as a map key.
type MatchSpec struct {
	Name        string
	Version     *VersionSpec
	Build       string
	BuildNumber *int
	Channel     string
	Optional    bool
	Target      string

	nameRe  *regexp.Regexp
	buildRe *regexp.Regexp
	str     string
}

// ParseMatchSpec parses the textual form above.
func ParseMatchSpec(s string) (*MatchSpec, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedSpec)
	}

	params := ""
	base := trimmed
	// a parameter list only opens at a field boundary; a bare "(" can be
	// part of an anchored regex name like ^(numpy|scipy)$
	if i := strings.Index(trimmed, " ("); i >= 0 {
		if !strings.HasSuffix(trimmed, ")") {
			return nil, fmt.Errorf("%w %q: unterminated parameter list", ErrMalformedSpec, s)
		}
		params = trimmed[i+2 : len(trimmed)-1]
		base = strings.TrimSpace(trimmed[:i])
	}

	fields := strings.Fields(base)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w %q: missing package name", ErrMalformedSpec, s)
	}
	if len(fields) > 4 {
		return nil, fmt.Errorf("%w %q: too many fields", ErrMalformedSpec, s)
	}

	m := &MatchSpec{}
	if err := m.setName(fields[0]); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrMalformedSpec, s, err)
	}
	if len(fields) >= 2 {
		if err := m.setVersion(fields[1]); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrMalformedSpec, s, err)
		}
	}
	if len(fields) >= 3 {
		if err := m.setBuild(fields[2]); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrMalformedSpec, s, err)
		}
	}
	if len(fields) == 4 {
		n, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%w %q: build number %q is not an integer", ErrMalformedSpec, s, fields[3])
		}
		m.BuildNumber = &n
	}

	if params != "" {
		if err := m.applyParams(params); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrMalformedSpec, s, err)
		}
	}
	m.str = m.render()
	return m, nil
}

// cachedParseMatchSpec memoizes ParseMatchSpec; dependency spec strings
// repeat across every record of a version group.
func cachedParseMatchSpec(s string) (*MatchSpec, error) {
	if m, ok := parsedSpecs.Load(s); ok {
		return m.(*MatchSpec), nil
	}
	parsed, err := ParseMatchSpec(s)
	if err != nil {
		return nil, err
	}
	parsedSpecs.Store(s, parsed)
	return parsed, nil
}

// specFromRecord builds the exact spec pinning rec and nothing else.
func specFromRecord(rec *PackageRecord) *MatchSpec {
	m := &MatchSpec{
		Name:    rec.Name,
		Build:   rec.Build,
		Channel: rec.Channel,
	}
	// records always carry a valid parsed version
	m.Version = &VersionSpec{
		raw:    "==" + rec.Version,
		groups: [][]*versionAtom{{{op: "==", version: rec.version, raw: "==" + rec.Version}}},
	}
	m.str = m.render()
	return m
}

func (m *MatchSpec) setName(name string) error {
	if strings.HasPrefix(name, "^") && strings.HasSuffix(name, "$") {
		re, err := regexp.Compile(name)
		if err != nil {
			return fmt.Errorf("invalid name pattern: %v", err)
		}
		m.nameRe = re
	}
	m.Name = name
	return nil
}

func (m *MatchSpec) setVersion(expr string) error {
	if expr == "*" {
		// matches anything; normalize away
		return nil
	}
	vs, err := ParseVersionSpec(expr)
	if err != nil {
		return err
	}
	m.Version = vs
	return nil
}

func (m *MatchSpec) setBuild(build string) error {
	if strings.Contains(build, "*") {
		m.buildRe = globRegexp(build)
	}
	m.Build = build
	return nil
}

func (m *MatchSpec) applyParams(params string) error {
	for _, kv := range strings.Split(params, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, found := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if !found {
			if k == "optional" {
				m.Optional = true
				continue
			}
			return fmt.Errorf("unknown match spec parameter %q", k)
		}
		switch k {
		case "name":
			if err := m.setName(v); err != nil {
				return err
			}
		case "version":
			if err := m.setVersion(v); err != nil {
				return err
			}
		case "build":
			if err := m.setBuild(v); err != nil {
				return err
			}
		case "build_number":
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("build_number %q is not an integer", v)
			}
			m.BuildNumber = &n
		case "channel":
			m.Channel = v
		case "optional":
			m.Optional = v == "" || v == "true"
		case "target":
			m.Target = v
		default:
			return fmt.Errorf("unknown match spec parameter %q", k)
		}
	}
	return nil
}

// Match reports whether rec satisfies every constraint the spec carries.
func (m *MatchSpec) Match(rec *PackageRecord) bool {
	switch {
	case m.nameRe != nil:
		if !m.nameRe.MatchString(rec.Name) {
			return false
		}
	case m.Name != "*" && m.Name != rec.Name:
		return false
	}
	if m.Channel != "" && m.Channel != rec.Channel {
		return false
	}
	if m.Version != nil && !m.Version.Match(rec.version) {
		return false
	}
	if m.Build != "" {
		if m.buildRe != nil {
			if !m.buildRe.MatchString(rec.Build) {
				return false
			}
		} else if m.Build != rec.Build {
			return false
		}
	}
	if m.BuildNumber != nil && *m.BuildNumber != rec.BuildNumber {
		return false
	}
	return true
}

// IsSimple reports whether only the name is constrained.
func (m *MatchSpec) IsSimple() bool {
	return m.nameRe == nil && m.Name != "*" &&
		m.Version == nil && m.Build == "" && m.BuildNumber == nil && m.Channel == ""
}

// IsExact reports whether the spec pins exactly one concrete record: a
// literal name, an exact version, a literal build and a channel, with no
// globs or ranges anywhere.
func (m *MatchSpec) IsExact() bool {
	if m.nameRe != nil || m.Name == "*" || m.Channel == "" {
		return false
	}
	if m.Build == "" || m.buildRe != nil {
		return false
	}
	return m.Version != nil && m.Version.isExact()
}

// String returns the normalized form; parsing it yields an equal spec.
func (m *MatchSpec) String() string { return m.str }

func (m *MatchSpec) render() string {
	var b strings.Builder
	b.WriteString(m.Name)
	switch {
	case m.Version != nil:
		b.WriteByte(' ')
		b.WriteString(m.Version.String())
	case m.Build != "" || m.BuildNumber != nil:
		b.WriteString(" *")
	}
	if m.Build != "" {
		b.WriteByte(' ')
		b.WriteString(m.Build)
		if m.BuildNumber != nil {
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(*m.BuildNumber))
		}
	}
	var params []string
	if m.Build == "" && m.BuildNumber != nil {
		params = append(params, fmt.Sprintf("build_number=%d", *m.BuildNumber))
	}
	if m.Channel != "" {
		params = append(params, "channel="+m.Channel)
	}
	if m.Optional {
		params = append(params, "optional")
	}
	if m.Target != "" {
		params = append(params, "target="+m.Target)
	}
	if len(params) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(params, ", "))
		b.WriteByte(')')
	}
	return b.String()
}

// VersionSpec is a boolean combination of version comparison atoms: AND
// terms joined by "," each holding OR alternatives joined by "|".
type VersionSpec struct {
	raw    string
	groups [][]*versionAtom
}

type versionAtom struct {
	op      string // "==", "!=", "<=", ">=", "<", ">", or "" for exact
	version *VersionOrder
	re      *regexp.Regexp // set for glob atoms; op and version unset
	raw     string
}

var specOperators = []string{"==", "!=", "<=", ">=", "<", ">"}

// ParseVersionSpec parses a version range expression.
func ParseVersionSpec(s string) (*VersionSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty version expression")
	}
	vs := &VersionSpec{raw: s}
	for _, andTerm := range strings.Split(s, ",") {
		if andTerm == "" {
			return nil, errors.New("empty version constraint")
		}
		var ors []*versionAtom
		for _, piece := range strings.Split(andTerm, "|") {
			atom, err := parseVersionAtom(piece)
			if err != nil {
				return nil, err
			}
			ors = append(ors, atom)
		}
		vs.groups = append(vs.groups, ors)
	}
	return vs, nil
}

func parseVersionAtom(piece string) (*versionAtom, error) {
	if piece == "" {
		return nil, errors.New("empty version constraint")
	}
	for _, op := range specOperators {
		if !strings.HasPrefix(piece, op) {
			continue
		}
		rest := piece[len(op):]
		if rest == "" {
			return nil, fmt.Errorf("operator %q missing a version", op)
		}
		if strings.ContainsAny(rest[:1], "=<>!") {
			return nil, fmt.Errorf("invalid operator %q", piece)
		}
		v, err := cachedParseVersion(rest)
		if err != nil {
			return nil, err
		}
		return &versionAtom{op: op, version: v, raw: op + strings.ToLower(rest)}, nil
	}
	if strings.Contains(piece, "*") {
		return &versionAtom{re: globRegexp(strings.ToLower(piece)), raw: strings.ToLower(piece)}, nil
	}
	v, err := cachedParseVersion(piece)
	if err != nil {
		return nil, err
	}
	return &versionAtom{version: v, raw: strings.ToLower(piece)}, nil
}

// Match evaluates the expression against v: every AND term must have at
// least one satisfied alternative.
func (vs *VersionSpec) Match(v *VersionOrder) bool {
	for _, ors := range vs.groups {
		ok := false
		for _, atom := range ors {
			if atom.match(v) {
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

// String returns the normalized expression.
func (vs *VersionSpec) String() string {
	terms := make([]string, len(vs.groups))
	for i, ors := range vs.groups {
		alts := make([]string, len(ors))
		for j, atom := range ors {
			alts[j] = atom.raw
		}
		terms[i] = strings.Join(alts, "|")
	}
	return strings.Join(terms, ",")
}

func (vs *VersionSpec) isExact() bool {
	if len(vs.groups) != 1 || len(vs.groups[0]) != 1 {
		return false
	}
	atom := vs.groups[0][0]
	return atom.re == nil && (atom.op == "" || atom.op == "==")
}

func (a *versionAtom) match(v *VersionOrder) bool {
	if a.re != nil {
		// globs match against the normalized version string
		return a.re.MatchString(v.String())
	}
	c := v.Compare(a.version)
	switch a.op {
	case "", "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case ">":
		return c > 0
	case "<=":
		return c <= 0
	case ">=":
		return c >= 0
	}
	return false
}

func globRegexp(glob string) *regexp.Regexp {
	return regexp.MustCompile("^" + strings.ReplaceAll(regexp.QuoteMeta(glob), `\*`, `.*`) + "$")
}
