// File: internal/sweep/plan.go
package sweep

import (
	"strconv"
	"strings"
)

// Kind classifies an invocation by the collaborator it calls.
type Kind string

const (
	KindTrain     Kind = "train"
	KindParse     Kind = "parse"
	KindAggregate Kind = "aggregate"
)

// Entrypoints locates the external collaborators. When Python is empty the scripts
// are executed directly.
type Entrypoints struct {
	Python     string `json:"python,omitempty"`
	Trainer    string `json:"trainer"`
	Parser     string `json:"parser"`
	Aggregator string `json:"aggregator"`
	// Dir is the working directory of every invocation; empty inherits ours.
	Dir string `json:"dir,omitempty"`
}

// PlanOptions tunes how invocations are laid out.
type PlanOptions struct {
	Entrypoints Entrypoints
	// CaptureTrainerOutput tees trainer stdout into a per-invocation log in the seed directory.
	CaptureTrainerOutput bool
}

// Invocation is one planned call of an external collaborator.
type Invocation struct {
	Index    int      `json:"index"`
	Kind     Kind     `json:"kind"`
	Seed     int      `json:"seed"`
	Protocol Protocol `json:"protocol,omitempty"`
	Subject  int      `json:"subject"`
	Session  int      `json:"session"`
	Download bool     `json:"download"`
	Program  string   `json:"program"`
	Args     []string `json:"args"`
	Dir      string   `json:"dir,omitempty"`
	// LogPath is appended to with the invocation's stdout. Empty means console only.
	LogPath string `json:"log_path,omitempty"`
	// Echo keeps stdout on the console even when LogPath is set.
	Echo bool `json:"echo,omitempty"`
}

// CommandLine renders the invocation as a shell-like string for logs and dry runs.
func (inv Invocation) CommandLine() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, quoteArg(inv.Program))
	for _, a := range inv.Args {
		parts = append(parts, quoteArg(a))
	}
	line := strings.Join(parts, " ")
	if inv.LogPath != "" && !inv.Echo {
		line += " >> " + quoteArg(inv.LogPath)
	}
	return line
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"\\$`") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}

// Plan is the complete, ordered list of invocations of one sweep.
type Plan struct {
	SeedInit    int          `json:"seed_init"`
	Seeds       []int        `json:"seeds"`
	Layout      Layout       `json:"layout"`
	Invocations []Invocation `json:"invocations"`
}

// Count returns the number of planned invocations of the given kind.
func (p *Plan) Count(kind Kind) int {
	n := 0
	for _, inv := range p.Invocations {
		if inv.Kind == kind {
			n++
		}
	}
	return n
}

// NewPlan lays out every invocation of a sweep over seeds seedInit..seedInit+NRuns-1.
// Params must already be valid.
func NewPlan(params Params, seedInit int, opts PlanOptions) *Plan {
	b := &planBuilder{
		params: params,
		opts:   opts,
		plan: &Plan{
			SeedInit: seedInit,
			Layout:   NewLayout(params.OutputFolder, seedInit),
		},
	}

	// Only the very first trainer run of the sweep materializes the dataset.
	download := true
	for run := 0; run < params.NRuns; run++ {
		seed := seedInit + run
		b.plan.Seeds = append(b.plan.Seeds, seed)

		if params.LeaveOneSubjectOut {
			for subject := 0; subject < params.NSubjects; subject++ {
				download = b.addTrain(seed, LeaveOneSubjectOut, subject, 0, download)
			}
		}
		if params.LeaveOneSessionOut {
			for session := 0; session < params.NSessions; session++ {
				for subject := 0; subject < params.NSubjects; subject++ {
					download = b.addTrain(seed, LeaveOneSessionOut, subject, session, download)
				}
			}
		}
		b.addParse(seed)
	}
	b.addAggregate()

	return b.plan
}

type planBuilder struct {
	params Params
	opts   PlanOptions
	plan   *Plan
}

// addTrain appends a trainer invocation and returns the download gate for the next one.
func (b *planBuilder) addTrain(seed int, protocol Protocol, subject, session int, download bool) bool {
	layout := b.plan.Layout
	args := []string{
		b.params.HParams,
		kv("seed", strconv.Itoa(seed)),
		kv("data_folder", b.params.DataFolder),
		kv("output_folder", layout.SeedDir(seed)),
		kv("target_subject_idx", strconv.Itoa(subject)),
		kv("target_session_idx", strconv.Itoa(session)),
		kv("data_iterator_name", string(protocol)),
		kv("to_download", strconv.FormatBool(download)),
		kv("to_prepare", strconv.FormatBool(download)),
	}
	args = append(args, b.params.Passthrough...)

	inv := b.invocation(KindTrain, b.opts.Entrypoints.Trainer, args)
	inv.Seed = seed
	inv.Protocol = protocol
	inv.Subject = subject
	inv.Session = session
	inv.Download = download
	if b.opts.CaptureTrainerOutput {
		inv.LogPath = layout.TrainerLog(seed, protocol, subject, session)
		inv.Echo = true
	}
	b.append(inv)
	return false
}

func (b *planBuilder) addParse(seed int) {
	layout := b.plan.Layout
	inv := b.invocation(KindParse, b.opts.Entrypoints.Parser, []string{
		layout.SeedDir(seed), b.params.MetricFile, b.params.EvalMetric,
	})
	inv.Seed = seed
	inv.LogPath = layout.SeedLog(seed)
	b.append(inv)
}

func (b *planBuilder) addAggregate() {
	layout := b.plan.Layout
	inv := b.invocation(KindAggregate, b.opts.Entrypoints.Aggregator, []string{
		layout.Root, b.params.EvalMetric,
	})
	inv.Seed = b.plan.SeedInit
	inv.LogPath = layout.AggregateLog()
	b.append(inv)
}

func (b *planBuilder) invocation(kind Kind, script string, args []string) Invocation {
	ep := b.opts.Entrypoints
	inv := Invocation{Kind: kind, Dir: ep.Dir}
	if ep.Python != "" {
		inv.Program = ep.Python
		inv.Args = append([]string{script}, args...)
	} else {
		inv.Program = script
		inv.Args = args
	}
	return inv
}

func (b *planBuilder) append(inv Invocation) {
	inv.Index = len(b.plan.Invocations)
	b.plan.Invocations = append(b.plan.Invocations, inv)
}

func kv(name, value string) string {
	return "--" + name + "=" + value
}
