// File: internal/sweep/params.go
package sweep

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// ErrInvalidParams is returned (wrapped) for any malformed run configuration.
var ErrInvalidParams = errors.New("invalid sweep parameters")

// RandomSeedToken is the positional value that asks for a freshly drawn initial seed.
const RandomSeedToken = "random_seed"

// PositionalArgCount is the number of required positional arguments of a sweep.
const PositionalArgCount = 11

// Protocol names the data iterator the trainer uses to split train and test data.
type Protocol string

const (
	LeaveOneSubjectOut Protocol = "leave-one-subject-out"
	LeaveOneSessionOut Protocol = "leave-one-session-out"
)

// SeedChoice is either an explicit initial seed or a request for a random one.
// The zero value is ExplicitSeed(0).
type SeedChoice struct {
	random bool
	value  int
}

// ExplicitSeed pins the initial seed of a sweep.
func ExplicitSeed(n int) SeedChoice { return SeedChoice{value: n} }

// RandomSeed defers the initial seed to the platform random source.
func RandomSeed() SeedChoice { return SeedChoice{random: true} }

// ParseSeedChoice reads the seed positional argument.
func ParseSeedChoice(s string) (SeedChoice, error) {
	s = strings.TrimSpace(s)
	if s == RandomSeedToken {
		return RandomSeed(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return SeedChoice{}, fmt.Errorf("%w: seed must be an integer or %q, got %q", ErrInvalidParams, RandomSeedToken, s)
	}
	return ExplicitSeed(n), nil
}

// IsRandom reports whether the seed is drawn at resolution time.
func (c SeedChoice) IsRandom() bool { return c.random }

// Resolve turns the choice into a concrete initial seed. src is consulted only for
// random choices; a nil src uses DefaultSeedSource.
func (c SeedChoice) Resolve(src func() int) int {
	if !c.random {
		return c.value
	}
	if src == nil {
		src = DefaultSeedSource
	}
	return src()
}

func (c SeedChoice) String() string {
	if c.random {
		return RandomSeedToken
	}
	return strconv.Itoa(c.value)
}

// MarshalText renders the choice the way it is written on the command line.
func (c SeedChoice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (c *SeedChoice) UnmarshalText(b []byte) error {
	parsed, err := ParseSeedChoice(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DefaultSeedSource draws from [0, 32768), the range of the shell's $RANDOM.
func DefaultSeedSource() int {
	return rand.IntN(1 << 15)
}

// Params is the full run configuration of one sweep.
type Params struct {
	HParams            string     `json:"hparams"`
	DataFolder         string     `json:"data_folder"`
	OutputFolder       string     `json:"output_folder"`
	NSubjects          int        `json:"nsbj"`
	NSessions          int        `json:"nsess"`
	NRuns              int        `json:"nruns"`
	Seed               SeedChoice `json:"seed"`
	EvalMetric         string     `json:"eval_metric"`
	MetricFile         string     `json:"metric_file"`
	LeaveOneSubjectOut bool       `json:"do_leave_one_subject_out"`
	LeaveOneSessionOut bool       `json:"do_leave_one_session_out"`
	// Passthrough is forwarded verbatim to every trainer invocation.
	Passthrough []string `json:"passthrough,omitempty"`
}

// ParsePositional builds Params from the positional command line. Everything after the
// first PositionalArgCount arguments is kept as passthrough.
func ParsePositional(args []string) (Params, error) {
	if len(args) < PositionalArgCount {
		return Params{}, fmt.Errorf("%w: expected %d positional arguments, got %d", ErrInvalidParams, PositionalArgCount, len(args))
	}

	var (
		p   Params
		err error
	)
	if p.HParams, err = expandPath("hparams", args[0]); err != nil {
		return Params{}, err
	}
	if p.DataFolder, err = expandPath("data_folder", args[1]); err != nil {
		return Params{}, err
	}
	if p.OutputFolder, err = expandPath("output_folder", args[2]); err != nil {
		return Params{}, err
	}
	if p.NSubjects, err = parseCount("nsbj", args[3]); err != nil {
		return Params{}, err
	}
	if p.NSessions, err = parseCount("nsess", args[4]); err != nil {
		return Params{}, err
	}
	if p.Seed, err = ParseSeedChoice(args[5]); err != nil {
		return Params{}, err
	}
	if p.NRuns, err = parseCount("nruns", args[6]); err != nil {
		return Params{}, err
	}
	p.EvalMetric = args[7]
	p.MetricFile = args[8]
	if p.LeaveOneSubjectOut, err = parseFlag("do_leave_one_subject_out", args[9]); err != nil {
		return Params{}, err
	}
	if p.LeaveOneSessionOut, err = parseFlag("do_leave_one_session_out", args[10]); err != nil {
		return Params{}, err
	}
	if len(args) > PositionalArgCount {
		p.Passthrough = append([]string(nil), args[PositionalArgCount:]...)
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the invariants the planner relies on.
func (p Params) Validate() error {
	switch {
	case p.HParams == "":
		return fmt.Errorf("%w: hparams path is empty", ErrInvalidParams)
	case p.DataFolder == "":
		return fmt.Errorf("%w: data_folder is empty", ErrInvalidParams)
	case p.OutputFolder == "":
		return fmt.Errorf("%w: output_folder is empty", ErrInvalidParams)
	case p.NSubjects <= 0:
		return fmt.Errorf("%w: nsbj must be positive, got %d", ErrInvalidParams, p.NSubjects)
	case p.NSessions <= 0:
		return fmt.Errorf("%w: nsess must be positive, got %d", ErrInvalidParams, p.NSessions)
	case p.NRuns <= 0:
		return fmt.Errorf("%w: nruns must be positive, got %d", ErrInvalidParams, p.NRuns)
	case p.EvalMetric == "":
		return fmt.Errorf("%w: eval_metric is empty", ErrInvalidParams)
	case p.MetricFile == "":
		return fmt.Errorf("%w: metric_file is empty", ErrInvalidParams)
	case !p.Seed.random && p.Seed.value > math.MaxInt-(p.NRuns-1):
		return fmt.Errorf("%w: seed %d leaves no room for %d runs", ErrInvalidParams, p.Seed.value, p.NRuns)
	}
	return nil
}

// Protocols lists the enabled evaluation protocols in execution order.
func (p Params) Protocols() []Protocol {
	var out []Protocol
	if p.LeaveOneSubjectOut {
		out = append(out, LeaveOneSubjectOut)
	}
	if p.LeaveOneSessionOut {
		out = append(out, LeaveOneSessionOut)
	}
	return out
}

func expandPath(name, raw string) (string, error) {
	path, err := homedir.Expand(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
	}
	return path, nil
}

func parseCount(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidParams, name, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidParams, name, n)
	}
	return n, nil
}

func parseFlag(name, raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidParams, name, raw)
}
