// File: internal/sweep/driver.go
// Description: Executes a sweep plan one invocation at a time, collecting every exit
// status instead of stopping at the first failure.

package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/eegsweep/internal/runner"
)

// Recorder persists sweep progress somewhere outside the output tree.
type Recorder interface {
	BeginSweep(ctx context.Context, summary *Summary, params Params, plan *Plan) error
	RecordOutcome(ctx context.Context, sweepID string, outcome Outcome) error
	FinishSweep(ctx context.Context, sweepID string, summary *Summary) error
}

// Driver runs sweep plans.
type Driver struct {
	runner   runner.Runner
	logger   *zap.Logger
	policy   FailurePolicy
	recorder Recorder
	limiter  *rate.Limiter
	now      func() time.Time
	newID    func() string
}

// Option configures a Driver.
type Option func(*Driver)

// WithPolicy sets the failure policy. The default is PolicyContinue.
func WithPolicy(p FailurePolicy) Option {
	return func(d *Driver) { d.policy = p }
}

// WithRecorder attaches a ledger. Recorder errors are logged, never fatal.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithLaunchInterval spaces out process launches by at least interval.
func WithLaunchInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithIDGenerator replaces the sweep ID generator, for tests.
func WithIDGenerator(f func() string) Option {
	return func(d *Driver) { d.newID = f }
}

// NewDriver creates a Driver around the given runner.
func NewDriver(r runner.Runner, logger *zap.Logger, opts ...Option) *Driver {
	d := &Driver{
		runner: r,
		logger: logger.Named("driver"),
		policy: PolicyContinue,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes every invocation of plan in order. The returned summary is non-nil
// whenever execution started. The error is non-nil only when the sweep could not be
// set up or ctx ended; failed invocations are reported in the summary.
func (d *Driver) Run(ctx context.Context, params Params, plan *Plan) (*Summary, error) {
	if plan == nil {
		return nil, errors.New("cannot run a nil plan")
	}

	summary := &Summary{
		SweepID:   d.newID(),
		SeedInit:  plan.SeedInit,
		Seeds:     append([]int(nil), plan.Seeds...),
		Root:      plan.Layout.Root,
		Policy:    d.policy,
		Status:    StatusRunning,
		StartedAt: d.now(),
		Planned:   len(plan.Invocations),
	}
	logger := d.logger.With(zap.String("sweep_id", summary.SweepID))

	if err := os.MkdirAll(params.DataFolder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data folder %s: %w", params.DataFolder, err)
	}
	if err := plan.Layout.Prepare(plan.Seeds); err != nil {
		return nil, err
	}

	logger.Info("Starting sweep",
		zap.Int("seed_init", plan.SeedInit),
		zap.Ints("seeds", plan.Seeds),
		zap.String("root", plan.Layout.Root),
		zap.Int("invocations", len(plan.Invocations)),
		zap.String("policy", string(d.policy)),
	)
	d.record(logger, "begin", func(r Recorder) error {
		return r.BeginSweep(ctx, summary, params, plan)
	})

	var (
		aborted     bool
		abortedSeed int
		runErr      error
	)
	for _, inv := range plan.Invocations {
		if aborted && d.skipAfterAbort(inv, abortedSeed) {
			summary.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				runErr = err
				break
			}
		}

		outcome, err := d.execute(ctx, logger, inv)
		if err != nil {
			runErr = err
			break
		}

		d.record(logger, "outcome", func(r Recorder) error {
			return r.RecordOutcome(ctx, summary.SweepID, outcome)
		})

		if !outcome.Failed() {
			summary.Succeeded++
			continue
		}
		summary.Failures = append(summary.Failures, outcome)
		if inv.Kind == KindTrain && d.policy == PolicyAbort && !aborted {
			aborted = true
			abortedSeed = inv.Seed
			logger.Warn("Failure policy is abort; skipping remaining training runs", zap.Int("seed", inv.Seed))
		}
	}

	interrupted := runErr != nil
	if interrupted {
		summary.Skipped = summary.Planned - summary.Executed()
	}
	summary.FinishedAt = d.now()
	summary.settle(interrupted, aborted)

	// The caller's context may already be cancelled; the ledger still deserves the final status.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	d.record(logger, "finish", func(r Recorder) error {
		return r.FinishSweep(finishCtx, summary.SweepID, summary)
	})

	logger.Info("Sweep finished",
		zap.String("status", string(summary.Status)),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", len(summary.Failures)),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	for _, f := range summary.Failures {
		logger.Warn("Invocation failed",
			zap.String("kind", string(f.Invocation.Kind)),
			zap.Int("seed", f.Invocation.Seed),
			zap.String("protocol", string(f.Invocation.Protocol)),
			zap.Int("subject", f.Invocation.Subject),
			zap.Int("session", f.Invocation.Session),
			zap.Int("exit_code", f.ExitCode),
			zap.String("error", f.Error),
		)
	}

	if runErr != nil {
		return summary, fmt.Errorf("sweep interrupted: %w", runErr)
	}
	return summary, nil
}

// skipAfterAbort decides which invocations are dropped once the abort policy tripped.
func (d *Driver) skipAfterAbort(inv Invocation, abortedSeed int) bool {
	switch inv.Kind {
	case KindTrain:
		return true
	case KindParse:
		return inv.Seed != abortedSeed
	default:
		return false
	}
}

// execute runs a single invocation. Only context cancellation is returned as an error.
func (d *Driver) execute(ctx context.Context, logger *zap.Logger, inv Invocation) (Outcome, error) {
	logger.Info("Launching invocation",
		zap.Int("index", inv.Index),
		zap.String("kind", string(inv.Kind)),
		zap.Int("seed", inv.Seed),
		zap.String("protocol", string(inv.Protocol)),
		zap.Int("subject", inv.Subject),
		zap.Int("session", inv.Session),
		zap.Bool("download", inv.Download),
	)
	logger.Debug("Command line", zap.String("cmd", inv.CommandLine()))

	res, err := d.runner.Run(ctx, runner.Command{
		Program: inv.Program,
		Args:    inv.Args,
		Dir:     inv.Dir,
		LogPath: inv.LogPath,
		Echo:    inv.Echo,
	})
	outcome := Outcome{
		Invocation: inv,
		ExitCode:   res.ExitCode,
		StartedAt:  res.Started,
		Duration:   res.Duration,
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		outcome.Error = err.Error()
		if outcome.ExitCode == 0 {
			outcome.ExitCode = -1
		}
	}
	return outcome, nil
}

func (d *Driver) record(logger *zap.Logger, step string, fn func(Recorder) error) {
	if d.recorder == nil {
		return
	}
	if err := fn(d.recorder); err != nil {
		logger.Warn("Failed to record sweep progress", zap.String("step", step), zap.Error(err))
	}
}
