package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive /bin/sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newTestRunner(stdout, stderr *bytes.Buffer) *ExecRunner {
	return NewExecRunner(zap.NewNop(), WithConsole(stdout, stderr))
}

func TestExecRunner_ConsoleOutput(t *testing.T) {
	requireShell(t)
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)

	res, err := r.Run(context.Background(), Command{Program: "sh", Args: []string{"-c", "echo out; echo err 1>&2"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", stdout.String())
	assert.Equal(t, "err\n", stderr.String())
	assert.False(t, res.Started.IsZero())
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	requireShell(t)
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)

	res, err := r.Run(context.Background(), Command{Program: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecRunner_LogIsAppended(t *testing.T) {
	requireShell(t)
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)
	logPath := filepath.Join(t.TempDir(), "10_results.txt")

	for _, word := range []string{"first", "second"} {
		_, err := r.Run(context.Background(), Command{
			Program: "sh",
			Args:    []string{"-c", "echo " + word},
			LogPath: logPath,
		})
		require.NoError(t, err)
	}

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(content))
	assert.Empty(t, stdout.String(), "logged output stays off the console")
}

func TestExecRunner_EchoTeesOutput(t *testing.T) {
	requireShell(t)
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)
	logPath := filepath.Join(t.TempDir(), "train.log")

	_, err := r.Run(context.Background(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo epoch 1"},
		LogPath: logPath,
		Echo:    true,
	})
	require.NoError(t, err)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "epoch 1\n", string(content))
	assert.Equal(t, "epoch 1\n", stdout.String())
}

func TestExecRunner_WorkingDirectory(t *testing.T) {
	requireShell(t)
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644))

	res, err := r.Run(context.Background(), Command{Program: "sh", Args: []string{"-c", "test -f marker"}, Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecRunner_MissingProgram(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)

	res, err := r.Run(context.Background(), Command{Program: "definitely-not-a-real-trainer-binary"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecRunner_UnopenableLog(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)

	_, err := r.Run(context.Background(), Command{
		Program: "sh",
		LogPath: filepath.Join(t.TempDir(), "missing", "dir", "log.txt"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestExecRunner_ContextCancellation(t *testing.T) {
	requireShell(t)
	var stdout, stderr bytes.Buffer
	r := newTestRunner(&stdout, &stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, Command{Program: "sh", Args: []string{"-c", "exec sleep 5"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}
