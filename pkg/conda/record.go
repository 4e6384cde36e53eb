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
	"fmt"
	"sort"
)

// RecordKey uniquely identifies a record as "channel::name-version-build".
type RecordKey string

// PackageRecord is the immutable metadata of one concrete installable
// package. Records are constructed once at index load, validated there, and
// never mutated afterwards; everything downstream operates on already-typed
// values.
type PackageRecord struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Build         string   `json:"build"`
	BuildNumber   int      `json:"build_number"`
	Depends       []string `json:"depends,omitempty"`
	Features      []string `json:"features,omitempty"`
	TrackFeatures []string `json:"track_features,omitempty"`
	Channel       string   `json:"channel"`
	Priority      int      `json:"priority"`

	version *VersionOrder
}

// NewPackageRecord validates and constructs a record. The version is parsed
// here, exactly once; feature slices are sorted for deterministic iteration.
func NewPackageRecord(name, version, build string, buildNumber int, depends, features, trackFeatures []string, channel string, priority int) (*PackageRecord, error) {
	if name == "" {
		return nil, fmt.Errorf("package record missing a name")
	}
	parsed, err := cachedParseVersion(version)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", name, err)
	}
	sort.Strings(features)
	sort.Strings(trackFeatures)
	return &PackageRecord{
		Name:          name,
		Version:       version,
		Build:         build,
		BuildNumber:   buildNumber,
		Depends:       depends,
		Features:      features,
		TrackFeatures: trackFeatures,
		Channel:       channel,
		Priority:      priority,
		version:       parsed,
	}, nil
}

// Key returns the canonical identity of the record.
func (p *PackageRecord) Key() RecordKey {
	return RecordKey(p.Channel + "::" + p.Name + "-" + p.Version + "-" + p.Build)
}

// VersionOrder returns the parsed version.
func (p *PackageRecord) VersionOrder() *VersionOrder { return p.version }

// Filename returns the record's archive name as it appears in a channel.
func (p *PackageRecord) Filename() string {
	return p.Name + "-" + p.Version + "-" + p.Build + ".tar.bz2"
}

func (p *PackageRecord) String() string {
	return fmt.Sprintf("%s (ver:%s build:%s)", p.Name, p.Version, p.Build)
}
