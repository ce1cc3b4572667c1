// File: internal/sweep/layout.go
package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	aggregateLogName = "aggregated_performance.txt"
	summaryFileName  = "sweep_summary.json"
)

// Layout resolves every path a sweep writes to. All of it lives under Root,
// which is <output_folder>_seed_<seed_init>.
type Layout struct {
	Root string `json:"root"`
}

// NewLayout derives the sweep root from the output folder and the resolved initial seed.
func NewLayout(outputFolder string, seedInit int) Layout {
	return Layout{Root: fmt.Sprintf("%s_seed_%d", filepath.Clean(outputFolder), seedInit)}
}

// SeedDir is the trainer output folder for one seed.
func (l Layout) SeedDir(seed int) string {
	return filepath.Join(l.Root, strconv.Itoa(seed))
}

// SeedLog receives the result parser output for one seed.
func (l Layout) SeedLog(seed int) string {
	return filepath.Join(l.Root, strconv.Itoa(seed)+"_results.txt")
}

// TrainerLog receives the captured trainer output of one invocation.
func (l Layout) TrainerLog(seed int, protocol Protocol, subject, session int) string {
	name := fmt.Sprintf("%s_sess%d_sbj%d.log", protocol, session, subject)
	return filepath.Join(l.SeedDir(seed), name)
}

// AggregateLog receives the aggregator output.
func (l Layout) AggregateLog() string {
	return filepath.Join(l.Root, aggregateLogName)
}

// SummaryFile is where the machine-readable sweep summary is written.
func (l Layout) SummaryFile() string {
	return filepath.Join(l.Root, summaryFileName)
}

// Prepare creates the root and one directory per seed. Existing directories are kept.
func (l Layout) Prepare(seeds []int) error {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create sweep root %s: %w", l.Root, err)
	}
	for _, seed := range seeds {
		dir := l.SeedDir(seed)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create seed directory %s: %w", dir, err)
		}
	}
	return nil
}
