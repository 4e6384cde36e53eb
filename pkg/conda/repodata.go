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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// repodataEntry is the on-disk shape of one package in repodata.json.
type repodataEntry struct {
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	Build         string      `json:"build"`
	BuildNumber   int         `json:"build_number"`
	Depends       []string    `json:"depends"`
	Features      featureList `json:"features"`
	TrackFeatures featureList `json:"track_features"`
}

// featureList accepts both encodings seen in the wild: a JSON array of
// strings and a single space-delimited string.
type featureList []string

func (f *featureList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = strings.Fields(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = list
	return nil
}

type repodata struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	Packages      map[string]repodataEntry `json:"packages"`
	PackagesConda map[string]repodataEntry `json:"packages.conda"`
}

// LoadRepodata reads one repodata.json file (optionally gzip or zstd
// compressed, by extension) and returns its records tagged with the given
// channel name and priority.
func LoadRepodata(ctx context.Context, path, channel string, priority int) ([]*PackageRecord, error) {
	log := clog.FromContext(ctx)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening repodata: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch filepath.Ext(path) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	var rd repodata
	if err := json.NewDecoder(r).Decode(&rd); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	records := make([]*PackageRecord, 0, len(rd.Packages)+len(rd.PackagesConda))
	appendEntries := func(entries map[string]repodataEntry) error {
		for fn, e := range entries {
			rec, err := NewPackageRecord(e.Name, e.Version, e.Build, e.BuildNumber,
				e.Depends, e.Features, e.TrackFeatures, channel, priority)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", path, fn, err)
			}
			records = append(records, rec)
		}
		return nil
	}
	if err := appendEntries(rd.Packages); err != nil {
		return nil, err
	}
	// .conda archives shadow their .tar.bz2 twins; same key, so the index
	// keeps only one
	if err := appendEntries(rd.PackagesConda); err != nil {
		return nil, err
	}

	log.Debugf("loaded %d records from %s (channel %s)", len(records), path, channel)
	return records, nil
}

// Channel is one repodata source for LoadChannels.
type Channel struct {
	// Name tags every record loaded from this channel; it becomes part of
	// each record's key.
	Name string
	// Path is a repodata.json file, optionally .gz or .zst compressed.
	Path string
}

// LoadChannels loads several channels concurrently and indexes the union.
// Channel priority follows list position: the first channel has the
// highest priority (0).
func LoadChannels(ctx context.Context, channels []Channel) (*Index, error) {
	perChannel := make([][]*PackageRecord, len(channels))

	g, ctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			records, err := LoadRepodata(ctx, ch.Path, ch.Name, i)
			if err != nil {
				return err
			}
			perChannel[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*PackageRecord
	for _, records := range perChannel {
		all = append(all, records...)
	}
	// map iteration scrambled each channel's records; restore a stable
	// order before indexing
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority < all[j].Priority
		}
		return all[i].Key() < all[j].Key()
	})
	return BuildIndex(all), nil
}

// ChannelName derives a channel name from a repodata path: the directory
// two levels up when the layout is <channel>/<subdir>/repodata.json, else
// the immediate directory name.
func ChannelName(path string) string {
	dir := filepath.Dir(path)
	name := filepath.Base(dir)
	switch name {
	case "noarch", "linux-64", "linux-aarch64", "osx-64", "osx-arm64", "win-64":
		name = filepath.Base(filepath.Dir(dir))
	}
	if name == "." || name == string(filepath.Separator) {
		name = "defaults"
	}
	return name
}
