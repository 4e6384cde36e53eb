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
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

const testRepodata = `{
  "info": {"subdir": "linux-64"},
  "packages": {
    "numpy-1.7.1-py27_0.tar.bz2": {
      "name": "numpy",
      "version": "1.7.1",
      "build": "py27_0",
      "build_number": 0,
      "depends": ["python 2.7*"],
      "features": "mkl debug",
      "track_features": ""
    },
    "python-2.7.5-0.tar.bz2": {
      "name": "python",
      "version": "2.7.5",
      "build": "0",
      "build_number": 0,
      "depends": []
    }
  },
  "packages.conda": {
    "numpy-1.7.1-py27_0.conda": {
      "name": "numpy",
      "version": "1.7.1",
      "build": "py27_0",
      "build_number": 0,
      "depends": ["python 2.7*"],
      "features": ["mkl", "debug"]
    }
  }
}`

func TestLoadRepodata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repodata.json")
	require.NoError(t, os.WriteFile(path, []byte(testRepodata), 0o644))

	records, err := LoadRepodata(context.Background(), path, "defaults", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	ix := BuildIndex(records)
	// the .conda entry shares a key with its .tar.bz2 twin
	require.Equal(t, 2, ix.Len())

	rec, ok := ix.Get("defaults::numpy-1.7.1-py27_0")
	require.True(t, ok)
	require.Equal(t, []string{"python 2.7*"}, rec.Depends)
	require.Equal(t, []string{"debug", "mkl"}, rec.Features)
	require.Empty(t, rec.TrackFeatures)
}

func TestLoadRepodataCompressed(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "repodata.json.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	_, err = gw.Write([]byte(testRepodata))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	records, err := LoadRepodata(context.Background(), gzPath, "defaults", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	zstPath := filepath.Join(dir, "repodata.json.zst")
	f, err = os.Create(zstPath)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = zw.Write([]byte(testRepodata))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	records, err = LoadRepodata(context.Background(), zstPath, "defaults", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestLoadRepodataErrors(t *testing.T) {
	_, err := LoadRepodata(context.Background(), filepath.Join(t.TempDir(), "absent.json"), "defaults", 0)
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "repodata.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"packages": {"x": {"name": "x", "version": "not a version"}}}`), 0o644))
	_, err = LoadRepodata(context.Background(), bad, "defaults", 0)
	require.ErrorIs(t, err, ErrMalformedVersion)
}

func TestLoadChannelsPriority(t *testing.T) {
	dir := t.TempDir()
	forge := filepath.Join(dir, "forge.json")
	main := filepath.Join(dir, "main.json")
	require.NoError(t, os.WriteFile(forge, []byte(`{"packages": {
		"zlib-1.2.7-0.tar.bz2": {"name": "zlib", "version": "1.2.7", "build": "0", "build_number": 0}
	}}`), 0o644))
	require.NoError(t, os.WriteFile(main, []byte(`{"packages": {
		"zlib-1.2.8-0.tar.bz2": {"name": "zlib", "version": "1.2.8", "build": "0", "build_number": 0}
	}}`), 0o644))

	ix, err := LoadChannels(context.Background(), []Channel{
		{Name: "main", Path: main},
		{Name: "forge", Path: forge},
	})
	require.NoError(t, err)
	require.Equal(t, 2, ix.Len())

	rec, ok := ix.Get("main::zlib-1.2.8-0")
	require.True(t, ok)
	require.Equal(t, 0, rec.Priority)
	rec, ok = ix.Get("forge::zlib-1.2.7-0")
	require.True(t, ok)
	require.Equal(t, 1, rec.Priority)
}

func TestChannelName(t *testing.T) {
	require.Equal(t, "conda-forge", ChannelName("/cache/conda-forge/linux-64/repodata.json"))
	require.Equal(t, "main", ChannelName("/cache/main/repodata.json.zst"))
	require.Equal(t, "defaults", ChannelName("repodata.json"))
}
