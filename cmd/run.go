// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eegsweep/internal/config"
	"github.com/xkilldash9x/eegsweep/internal/observability"
	"github.com/xkilldash9x/eegsweep/internal/reporting"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

// errSweepFailed is returned by run when at least one invocation failed.
var errSweepFailed = errors.New("sweep finished with failures")

const positionalUsage = "<hparams> <data_folder> <output_folder> <nsbj> <nsess> <seed|random_seed> <nruns> " +
	"<eval_metric> <metric_file> <do_leave_one_subject_out> <do_leave_one_session_out> [[--] trainer args...]"

func newRunCmd(d *deps) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run " + positionalUsage,
		Short: "Run a benchmark sweep",
		Long: `Runs the trainer for every seed, protocol, held-out subject and held-out session,
then the result parser once per seed and the aggregator once at the end.

Results go to <output_folder>_seed_<seed>. Only the first trainer invocation of the sweep
downloads and prepares the dataset. Flags go before the positional arguments; everything
after the eleventh positional argument (optionally separated by "--") is forwarded to every
trainer invocation unchanged.

Failed invocations do not stop the sweep unless --failure-policy=abort is given; they are
listed in the summary at the end and make the command exit non-zero.`,
		Example: `  eegsweep run hparams/MotorImagery/BNCI2014001/EEGNet.yaml ~/eeg_data ~/results 9 2 random_seed 10 acc valid_metrics.pkl true false
  eegsweep run --failure-policy=abort hparams/EEGNet.yaml data results 2 1 10 1 f1 test_metrics.pkl true true --number_of_epochs=2`,
		Args: cobra.MinimumNArgs(sweep.PositionalArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			params, err := sweep.ParsePositional(trimSeparator(args))
			if err != nil {
				return err
			}
			return runSweep(ctx, observability.GetLogger(), cfg, params, d, cmd.OutOrStdout(), cmd.ErrOrStderr(), dryRun)
		},
	}

	// Negative seeds and trainer overrides after the positionals are not our flags.
	cmd.Flags().SetInterspersed(false)
	addSweepFlags(cmd)
	cmd.Flags().String("failure-policy", "", "what to do after a failed trainer run: continue or abort")
	cmd.Flags().Bool("capture-output", false, "also append trainer output to a log in the seed directory")
	cmd.Flags().Duration("launch-interval", 0, "minimum delay between two process launches")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned invocations without running them")
	return cmd
}

// addSweepFlags registers the collaborator flags shared by run and plan.
func addSweepFlags(cmd *cobra.Command) {
	cmd.Flags().String("python", "", "interpreter the scripts are run with (empty runs them directly)")
	cmd.Flags().String("trainer", "", "training entry point")
	cmd.Flags().String("parser", "", "per-seed result parser")
	cmd.Flags().String("aggregator", "", "cross-seed aggregator")
	cmd.Flags().String("work-dir", "", "directory the scripts are launched from")
}

// trimSeparator drops a "--" between the positional and the passthrough arguments.
// Flag parsing stops at the first positional, so it is still in args.
func trimSeparator(args []string) []string {
	n := sweep.PositionalArgCount
	if len(args) <= n || args[n] != "--" {
		return args
	}
	out := append([]string(nil), args[:n]...)
	return append(out, args[n+1:]...)
}

// runSweep contains the core, testable logic of the run command.
func runSweep(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	params sweep.Params,
	d *deps,
	stdout, stderr io.Writer,
	dryRun bool,
) error {
	policy, err := sweep.ParseFailurePolicy(cfg.Sweep().FailurePolicy)
	if err != nil {
		return err
	}
	plan, err := buildPlan(logger, cfg, params, d.seedSource)
	if err != nil {
		return err
	}
	if dryRun {
		return printPlan(stdout, plan, false)
	}

	opts := []sweep.Option{
		sweep.WithPolicy(policy),
		sweep.WithLaunchInterval(cfg.Sweep().MinLaunchInterval),
	}
	if cfg.Database().URL != "" {
		ledger, cleanup, err := d.stores.Create(ctx, cfg)
		if err != nil {
			logger.Warn("Sweep ledger unavailable; continuing without it", zap.Error(err))
		} else {
			if cleanup != nil {
				defer cleanup()
			}
			opts = append(opts, sweep.WithRecorder(ledger))
		}
	}
	opts = append(opts, d.driverOpts...)

	driver := sweep.NewDriver(d.newRunner(logger, stdout, stderr), logger, opts...)
	summary, runErr := driver.Run(ctx, params, plan)
	if summary == nil {
		return runErr
	}

	summaryPath := plan.Layout.SummaryFile()
	if err := reporting.WriteSummaryFile(summaryPath, summary); err != nil {
		logger.Error("Failed to write sweep summary", zap.String("path", summaryPath), zap.Error(err))
	} else {
		logger.Info("Sweep summary written", zap.String("path", summaryPath))
	}
	if err := renderSummary(stdout, summary); err != nil {
		logger.Warn("Failed to print sweep summary", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	if summary.Failed() {
		return fmt.Errorf("%w: %d of %d invocations failed (see %s)",
			errSweepFailed, len(summary.Failures), summary.Planned, summaryPath)
	}
	return nil
}

// buildPlan resolves the seed and lays out the sweep using the configured collaborators.
func buildPlan(logger *zap.Logger, cfg config.Interface, params sweep.Params, seedSource func() int) (*sweep.Plan, error) {
	sc := cfg.Sweep()
	workDir, err := homedir.Expand(sc.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("invalid work_dir %q: %w", sc.WorkDir, err)
	}

	seedInit := params.Seed.Resolve(seedSource)
	if params.Seed.IsRandom() {
		logger.Info("Drew random initial seed", zap.Int("seed_init", seedInit))
	}

	return sweep.NewPlan(params, seedInit, sweep.PlanOptions{
		Entrypoints: sweep.Entrypoints{
			Python:     sc.Python,
			Trainer:    sc.Trainer,
			Parser:     sc.Parser,
			Aggregator: sc.Aggregator,
			Dir:        workDir,
		},
		CaptureTrainerOutput: sc.CaptureTrainerOutput,
	}), nil
}

func renderSummary(w io.Writer, summary *sweep.Summary) error {
	rep, err := reporting.NewWriter("text", w)
	if err != nil {
		return err
	}
	defer rep.Close()
	fmt.Fprintln(w)
	return rep.Write(summary)
}
