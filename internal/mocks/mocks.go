// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/eegsweep/internal/runner"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

// -- Runner Mock --

// MockRunner mocks runner.Runner.
type MockRunner struct {
	mock.Mock
}

// Run records the command and returns whatever the test configured.
func (m *MockRunner) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(runner.Result), args.Error(1)
}

// Commands returns the commands passed to Run, in call order.
func (m *MockRunner) Commands() []runner.Command {
	var out []runner.Command
	for _, call := range m.Calls {
		if call.Method == "Run" {
			out = append(out, call.Arguments.Get(1).(runner.Command))
		}
	}
	return out
}

// -- Recorder Mock --

// MockRecorder mocks sweep.Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) BeginSweep(ctx context.Context, summary *sweep.Summary, params sweep.Params, plan *sweep.Plan) error {
	args := m.Called(ctx, summary, params, plan)
	return args.Error(0)
}

func (m *MockRecorder) RecordOutcome(ctx context.Context, sweepID string, outcome sweep.Outcome) error {
	args := m.Called(ctx, sweepID, outcome)
	return args.Error(0)
}

func (m *MockRecorder) FinishSweep(ctx context.Context, sweepID string, summary *sweep.Summary) error {
	args := m.Called(ctx, sweepID, summary)
	return args.Error(0)
}

// -- Ledger Mock --

// MockLedger mocks the full sweep ledger: the recorder side used by run and the read
// side used by report.
type MockLedger struct {
	MockRecorder
}

func (m *MockLedger) GetSummary(ctx context.Context, sweepID string) (*sweep.Summary, error) {
	args := m.Called(ctx, sweepID)
	if s, ok := args.Get(0).(*sweep.Summary); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
