// File: cmd/tail.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/eegsweep/internal/logtail"
	"github.com/xkilldash9x/eegsweep/internal/observability"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

func newTailCmd() *cobra.Command {
	var noFollow, poll, fromEnd bool

	cmd := &cobra.Command{
		Use:   "tail <log|sweep_root>...",
		Short: "Follow the results logs of a sweep",
		Long: `Prints the given log files and keeps printing lines as they are appended, until
interrupted. A sweep root directory stands for its per-seed results logs and the
aggregated performance log.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandTailPaths(args, !noFollow)
			if err != nil {
				return err
			}
			f := logtail.New(cmd.OutOrStdout(), observability.GetLogger(), logtail.Options{
				Follow:  !noFollow,
				Poll:    poll,
				FromEnd: fromEnd,
			})
			return f.Run(cmd.Context(), paths)
		},
	}

	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "print the current content and exit")
	cmd.Flags().BoolVar(&poll, "poll", false, "poll for changes instead of using inotify")
	cmd.Flags().BoolVar(&fromEnd, "from-end", false, "only print lines appended from now on")
	return cmd
}

// expandTailPaths resolves ~ and replaces sweep root directories by their logs. The
// aggregated log of a running sweep does not exist yet; it is only included when it can
// be waited for.
func expandTailPaths(args []string, follow bool) ([]string, error) {
	var paths []string
	for _, arg := range args {
		path, err := homedir.Expand(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", arg, err)
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			paths = append(paths, path)
			continue
		}

		seedLogs, err := filepath.Glob(filepath.Join(path, "*_results.txt"))
		if err != nil {
			return nil, fmt.Errorf("failed to list logs in %s: %w", path, err)
		}
		sortSeedLogs(seedLogs)
		paths = append(paths, seedLogs...)

		aggregate := sweep.Layout{Root: path}.AggregateLog()
		if _, err := os.Stat(aggregate); err == nil || follow {
			paths = append(paths, aggregate)
		}
	}
	return paths, nil
}

// sortSeedLogs orders <seed>_results.txt files by seed, so 9 comes before 10.
func sortSeedLogs(logs []string) {
	seedOf := func(p string) (int, bool) {
		n, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(p), "_results.txt"))
		return n, err == nil
	}
	sort.SliceStable(logs, func(i, j int) bool {
		a, okA := seedOf(logs[i])
		b, okB := seedOf(logs[j])
		switch {
		case okA && okB && a != b:
			return a < b
		case okA != okB:
			return okA
		default:
			return logs[i] < logs[j]
		}
	})
}
