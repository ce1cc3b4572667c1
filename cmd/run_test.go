// File: cmd/run_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/eegsweep/internal/mocks"
	"github.com/xkilldash9x/eegsweep/internal/reporting"
	"github.com/xkilldash9x/eegsweep/internal/runner"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

func commandFor(subject string) interface{} {
	return mock.MatchedBy(func(c runner.Command) bool {
		for _, a := range c.Args {
			if a == "--target_subject_idx="+subject {
				return true
			}
		}
		return false
	})
}

func TestRunCmd_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.succeedAll()
	args, output := sweepArgs(t, "10")

	err := env.execute(append(append([]string{"run"}, args...), "--", "--number_of_epochs=2")...)
	require.NoError(t, err)

	cmds := env.runner.Commands()
	require.Len(t, cmds, 4)
	root := output + "_seed_10"

	for i, subject := range []string{"0", "1"} {
		c := cmds[i]
		assert.Equal(t, "python", c.Program)
		assert.Equal(t, "train.py", c.Args[0])
		assert.Contains(t, c.Args, "--seed=10")
		assert.Contains(t, c.Args, "--target_subject_idx="+subject)
		assert.Contains(t, c.Args, "--target_session_idx=0")
		assert.Contains(t, c.Args, "--output_folder="+filepath.Join(root, "10"))
		assert.Equal(t, "--number_of_epochs=2", c.Args[len(c.Args)-1])
		assert.NotContains(t, c.Args, "--", "the separator is not forwarded")
		assert.Empty(t, c.LogPath, "trainer output stays on the console")
	}
	assert.Contains(t, cmds[0].Args, "--to_download=true")
	assert.Contains(t, cmds[1].Args, "--to_download=false")

	assert.Equal(t, []string{"parse_results.py", filepath.Join(root, "10"), "valid_metrics.pkl", "acc"}, cmds[2].Args)
	assert.Equal(t, filepath.Join(root, "10_results.txt"), cmds[2].LogPath)
	assert.Equal(t, []string{"aggregate_results.py", root, "acc"}, cmds[3].Args)
	assert.Equal(t, filepath.Join(root, "aggregated_performance.txt"), cmds[3].LogPath)

	summary, err := reporting.ReadSummaryFile(filepath.Join(root, "sweep_summary.json"))
	require.NoError(t, err)
	assert.Equal(t, "sweep-test", summary.SweepID)
	assert.Equal(t, sweep.StatusCompleted, summary.Status)
	assert.Equal(t, 4, summary.Succeeded)

	assert.Contains(t, env.out.String(), "completed")
	assert.Equal(t, 0, env.stores.created, "no ledger without a database URL")
}

func TestRunCmd_PassthroughWithoutSeparator(t *testing.T) {
	env := newTestEnv(t)
	env.succeedAll()
	args, _ := sweepArgs(t, "10")

	err := env.execute(append(append([]string{"run"}, args...), "--number_of_epochs=2", "-v")...)
	require.NoError(t, err)

	first := env.runner.Commands()[0]
	assert.Equal(t, []string{"--number_of_epochs=2", "-v"}, first.Args[len(first.Args)-2:])
}

func TestRunCmd_FlagsAfterPositionalsArePassthrough(t *testing.T) {
	env := newTestEnv(t)
	env.succeedAll()
	args, _ := sweepArgs(t, "10")

	err := env.execute(append(append([]string{"run"}, args...), "--dry-run")...)
	require.NoError(t, err)

	require.NotEmpty(t, env.runner.Commands(), "--dry-run after the positionals belongs to the trainer")
	assert.Contains(t, env.runner.Commands()[0].Args, "--dry-run")
}

func TestRunCmd_FailuresAreCollected(t *testing.T) {
	env := newTestEnv(t)
	env.runner.On("Run", mock.Anything, commandFor("0")).Return(runner.Result{ExitCode: 1}, nil)
	env.succeedAll()
	args, output := sweepArgs(t, "10")

	err := env.execute(append([]string{"run"}, args...)...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errSweepFailed))
	assert.Equal(t, exitFailure, exitCode(err))

	assert.Len(t, env.runner.Commands(), 4, "continue runs the whole plan")

	summary, err := reporting.ReadSummaryFile(filepath.Join(output+"_seed_10", "sweep_summary.json"))
	require.NoError(t, err)
	assert.Equal(t, sweep.StatusFailures, summary.Status)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 0, summary.Failures[0].Invocation.Subject)

	out := env.out.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "leave-one-subject-out")
}

func TestRunCmd_AbortPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.runner.On("Run", mock.Anything, commandFor("0")).Return(runner.Result{ExitCode: 1}, nil)
	env.succeedAll()
	args, _ := sweepArgs(t, "10")

	err := env.execute(append([]string{"run", "--failure-policy=abort"}, args...)...)
	require.ErrorIs(t, err, errSweepFailed)

	cmds := env.runner.Commands()
	require.Len(t, cmds, 3, "the second trainer run is skipped")
	assert.Equal(t, "train.py", cmds[0].Args[0])
	assert.Equal(t, "parse_results.py", cmds[1].Args[0])
	assert.Equal(t, "aggregate_results.py", cmds[2].Args[0])
	assert.Contains(t, env.out.String(), "aborted")
}

func TestRunCmd_DryRun(t *testing.T) {
	env := newTestEnv(t)
	args, output := sweepArgs(t, "10")

	require.NoError(t, env.execute(append([]string{"run", "--dry-run"}, args...)...))

	env.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	lines := strings.Split(strings.TrimSpace(env.out.String()), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[2], "python train.py "))
	assert.True(t, strings.HasPrefix(lines[5], "python aggregate_results.py "))

	_, err := os.Stat(output + "_seed_10")
	assert.True(t, os.IsNotExist(err), "a dry run creates nothing")
}

func TestRunCmd_RandomSeed(t *testing.T) {
	env := newTestEnv(t)
	env.succeedAll()
	args, output := sweepArgs(t, "random_seed")

	require.NoError(t, env.execute(append([]string{"run"}, args...)...))
	assert.DirExists(t, filepath.Join(output+"_seed_4242", "4242"))
	assert.Contains(t, env.runner.Commands()[0].Args, "--seed=4242")
}

func TestRunCmd_CaptureOutputAndFlags(t *testing.T) {
	env := newTestEnv(t)
	env.succeedAll()
	args, output := sweepArgs(t, "10")
	workDir := t.TempDir()

	err := env.execute(append([]string{
		"run", "--capture-output", "--python=", "--trainer=./train.sh", "--work-dir", workDir,
	}, args...)...)
	require.NoError(t, err)

	first := env.runner.Commands()[0]
	assert.Equal(t, "./train.sh", first.Program)
	assert.Equal(t, workDir, first.Dir)
	assert.True(t, first.Echo)
	assert.Equal(t,
		filepath.Join(output+"_seed_10", "10", "leave-one-subject-out_sess0_sbj0.log"),
		first.LogPath)
}

func TestRunCmd_InvalidArguments(t *testing.T) {
	env := newTestEnv(t)
	args, _ := sweepArgs(t, "10")
	args[3] = "0"

	err := env.execute(append([]string{"run"}, args...)...)
	require.ErrorIs(t, err, sweep.ErrInvalidParams)
	assert.Equal(t, exitUsage, exitCode(err))

	err = env.execute("run", "only", "three", "args")
	assert.Error(t, err)
}

func TestRunCmd_RecordsIntoLedger(t *testing.T) {
	env := newTestEnv(t)
	env.succeedAll()
	t.Setenv("EEGSWEEP_DATABASE_URL", "postgres://sweeps@localhost/eeg")

	l := new(mocks.MockLedger)
	l.On("BeginSweep", mock.Anything, mock.AnythingOfType("*sweep.Summary"), mock.AnythingOfType("sweep.Params"), mock.AnythingOfType("*sweep.Plan")).Return(nil)
	l.On("RecordOutcome", mock.Anything, "sweep-test", mock.AnythingOfType("sweep.Outcome")).Return(nil)
	l.On("FinishSweep", mock.Anything, "sweep-test", mock.MatchedBy(func(s *sweep.Summary) bool {
		return s.Status == sweep.StatusCompleted
	})).Return(nil)
	env.stores.ledger = l

	args, _ := sweepArgs(t, "10")
	require.NoError(t, env.execute(append([]string{"run"}, args...)...))

	l.AssertExpectations(t)
	l.AssertNumberOfCalls(t, "RecordOutcome", 4)
	assert.Equal(t, 1, env.stores.created)
	assert.Equal(t, 1, env.stores.closed)
}

func TestRunCmd_LedgerUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.succeedAll()
	t.Setenv("EEGSWEEP_DATABASE_URL", "postgres://sweeps@localhost/eeg")
	env.stores.err = errors.New("connection refused")

	args, _ := sweepArgs(t, "10")
	require.NoError(t, env.execute(append([]string{"run"}, args...)...))
	assert.Len(t, env.runner.Commands(), 4)
}

func TestRunCmd_Interrupted(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	env.runner.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(runner.Result{ExitCode: 0}, nil)
	args, output := sweepArgs(t, "10")

	env.root.SetArgs(append([]string{"run"}, args...))
	err := env.root.ExecuteContext(ctx)
	require.Error(t, err)
	assert.Equal(t, exitInterrupted, exitCode(err))

	summary, err := reporting.ReadSummaryFile(filepath.Join(output+"_seed_10", "sweep_summary.json"))
	require.NoError(t, err)
	assert.Equal(t, sweep.StatusInterrupted, summary.Status)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 3, summary.Skipped)
}

func TestPlanCmd_JSON(t *testing.T) {
	env := newTestEnv(t)
	args, output := sweepArgs(t, "10")

	require.NoError(t, env.execute(append([]string{"plan", "--json"}, args...)...))

	var plan sweep.Plan
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &plan))
	assert.Equal(t, 10, plan.SeedInit)
	assert.Equal(t, []int{10}, plan.Seeds)
	assert.Equal(t, output+"_seed_10", plan.Layout.Root)
	assert.Equal(t, 2, plan.Count(sweep.KindTrain))
	assert.Equal(t, 1, plan.Count(sweep.KindParse))
	assert.Equal(t, 1, plan.Count(sweep.KindAggregate))
	env.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestPlanCmd_NegativeSeed(t *testing.T) {
	env := newTestEnv(t)
	args, output := sweepArgs(t, "-5")

	require.NoError(t, env.execute(append([]string{"plan", "--json"}, args...)...))

	var plan sweep.Plan
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &plan))
	assert.Equal(t, -5, plan.SeedInit)
	assert.Equal(t, output+"_seed_-5", plan.Layout.Root)
	assert.Contains(t, plan.Invocations[0].Args, "--seed=-5")
}

func TestTrimSeparator(t *testing.T) {
	positionals := []string{"h", "d", "o", "2", "1", "10", "1", "acc", "m.pkl", "true", "false"}

	assert.Equal(t, positionals, trimSeparator(positionals))
	assert.Equal(t,
		append(append([]string(nil), positionals...), "--lr=0.1"),
		trimSeparator(append(append([]string(nil), positionals...), "--", "--lr=0.1")))
	assert.Equal(t,
		append(append([]string(nil), positionals...), "--lr=0.1", "--"),
		trimSeparator(append(append([]string(nil), positionals...), "--lr=0.1", "--")),
		"only the separator right after the positionals is dropped")
}

func TestPlanCmd_Text(t *testing.T) {
	env := newTestEnv(t)
	args, _ := sweepArgs(t, "random_seed")

	require.NoError(t, env.execute(append([]string{"plan"}, args...)...))
	out := env.out.String()
	assert.Contains(t, out, "_seed_4242, seeds [4242]")
	assert.Contains(t, out, "# 4 invocations: 2 train, 1 parse, 1 aggregate")
	assert.Contains(t, out, ">> ")
}
