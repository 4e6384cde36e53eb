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

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"chainguard.dev/gonda/pkg/conda"
	"chainguard.dev/gonda/pkg/sat"
)

func solve() *cobra.Command {
	var channels []string
	var envFile string
	var remove []string
	var history []string
	var pinned []string
	var deps string
	var prune bool
	var forceReinstall bool
	var ignorePinned bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "solve [specs...]",
		Short: "Resolve match specs against channel repodata",
		Example: `  gonda solve -c ./conda-forge/linux-64/repodata.json "numpy 1.7*" "python >=3"
  gonda solve -c main=./repodata.json.zst -f environment.yml --json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			install := args
			var chans []conda.Channel
			for _, c := range channels {
				if name, path, ok := strings.Cut(c, "="); ok && !strings.Contains(name, "/") {
					chans = append(chans, conda.Channel{Name: name, Path: path})
					continue
				}
				chans = append(chans, conda.Channel{Name: conda.ChannelName(c), Path: c})
			}

			if envFile != "" {
				env, err := conda.LoadEnvironment(envFile)
				if err != nil {
					return err
				}
				install = append(install, env.Dependencies...)
			}
			if len(install) == 0 && len(history) == 0 {
				return fmt.Errorf("nothing to solve: pass specs, --history or --file")
			}
			if len(chans) == 0 {
				return fmt.Errorf("no channels: pass at least one --channel")
			}

			modifier, err := parseDepsModifier(deps)
			if err != nil {
				return err
			}

			return solveCmd(ctx, cmd.OutOrStdout(), chans, conda.SolveRequest{
				Install:        install,
				Remove:         remove,
				History:        history,
				Pinned:         pinned,
				Modifier:       modifier,
				ForceReinstall: forceReinstall,
				IgnorePinned:   ignorePinned,
				Prune:          prune,
			}, jsonOut)
		},
	}

	cmd.Flags().StringSliceVarP(&channels, "channel", "c", nil, "repodata.json path, optionally prefixed name= (repeatable, highest priority first)")
	cmd.Flags().StringVarP(&envFile, "file", "f", "", "environment.yml file to read specs from")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "package names to exclude from the solution")
	cmd.Flags().StringSliceVar(&history, "history", nil, "specs from earlier solves that stay pinned")
	cmd.Flags().StringSliceVar(&pinned, "pin", nil, "specs constraining matching packages without installing them")
	cmd.Flags().StringVar(&deps, "deps", "default", "dependency handling: default, no-deps, only-deps, update-deps, update-all or freeze-installed")
	cmd.Flags().BoolVar(&prune, "prune", false, "drop history packages nothing else requires")
	cmd.Flags().BoolVar(&forceReinstall, "force-reinstall", false, "do not bias toward currently installed records")
	cmd.Flags().BoolVar(&ignorePinned, "ignore-pinned", false, "ignore --pin specs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the solution as JSON")
	return cmd
}

func parseDepsModifier(s string) (conda.DepsModifier, error) {
	switch s {
	case "", "default":
		return conda.DepsDefault, nil
	case "no-deps":
		return conda.NoDeps, nil
	case "only-deps":
		return conda.OnlyDeps, nil
	case "update-deps":
		return conda.UpdateDeps, nil
	case "update-all":
		return conda.UpdateAll, nil
	case "freeze-installed":
		return conda.FreezeInstalled, nil
	}
	return conda.DepsDefault, fmt.Errorf("unknown deps modifier %q", s)
}

func solveCmd(ctx context.Context, out io.Writer, channels []conda.Channel, req conda.SolveRequest, jsonOut bool) error {
	log := clog.FromContext(ctx)

	index, err := conda.LoadChannels(ctx, channels)
	if err != nil {
		return err
	}
	log.Infof("indexed %d records across %d channels", index.Len(), len(channels))

	resolver := conda.NewResolver(index, sat.NewGophersat())
	records, err := resolver.Solve(ctx, req)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	for _, rec := range records {
		fmt.Fprintln(out, rec.Key())
	}
	return nil
}
