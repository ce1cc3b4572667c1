// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eegsweep/internal/config"
	"github.com/xkilldash9x/eegsweep/internal/mocks"
	"github.com/xkilldash9x/eegsweep/internal/observability"
	"github.com/xkilldash9x/eegsweep/internal/runner"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

// resetForTest isolates a test from the environment: no config file discovery, a silent
// logger writing its file into a temp dir, and no ledger unless the test sets one.
func resetForTest(t *testing.T) {
	t.Helper()

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	t.Chdir(t.TempDir())
	t.Setenv("EEGSWEEP_LOGGER_LEVEL", "fatal")
	t.Setenv("EEGSWEEP_LOGGER_LOG_FILE", filepath.Join(t.TempDir(), "eegsweep.log"))
	t.Setenv("EEGSWEEP_DATABASE_URL", "")
}

// mockStoreProvider hands out a fixed ledger.
type mockStoreProvider struct {
	ledger  ledger
	err     error
	created int
	closed  int
}

func (p *mockStoreProvider) Create(ctx context.Context, cfg config.Interface) (ledger, func(), error) {
	p.created++
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.ledger, func() { p.closed++ }, nil
}

// testEnv is a pristine command tree wired to mocks.
type testEnv struct {
	root   *cobra.Command
	runner *mocks.MockRunner
	stores *mockStoreProvider
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	resetForTest(t)

	env := &testEnv{
		runner: new(mocks.MockRunner),
		stores: &mockStoreProvider{},
		out:    new(bytes.Buffer),
		errOut: new(bytes.Buffer),
	}
	d := &deps{
		newRunner: func(*zap.Logger, io.Writer, io.Writer) runner.Runner {
			return env.runner
		},
		stores:     env.stores,
		seedSource: func() int { return 4242 },
		driverOpts: []sweep.Option{sweep.WithIDGenerator(func() string { return "sweep-test" })},
	}
	env.root = newRootCmd(d)
	env.root.SetOut(env.out)
	env.root.SetErr(env.errOut)
	return env
}

func (e *testEnv) execute(args ...string) error {
	e.root.SetArgs(args)
	return e.root.ExecuteContext(context.Background())
}

// succeedAll makes every runner call exit 0.
func (e *testEnv) succeedAll() {
	e.runner.On("Run", mock.Anything, mock.Anything).Return(runner.Result{ExitCode: 0}, nil)
}

// sweepArgs returns the positional arguments of a small LOSO-subject sweep over two
// subjects and one seed rooted in a temp dir, plus the expected sweep root.
func sweepArgs(t *testing.T, seed string) (args []string, output string) {
	t.Helper()
	dir := t.TempDir()
	output = filepath.Join(dir, "results")
	args = []string{
		filepath.Join(dir, "hparams", "EEGNet.yaml"),
		filepath.Join(dir, "data"),
		output,
		"2", "1", seed, "1", "acc", "valid_metrics.pkl", "true", "false",
	}
	return args, output
}
