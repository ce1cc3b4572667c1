// File: cmd/report.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eegsweep/internal/config"
	"github.com/xkilldash9x/eegsweep/internal/observability"
	"github.com/xkilldash9x/eegsweep/internal/reporting"
	"github.com/xkilldash9x/eegsweep/internal/store"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

// ledger is the sweep store as the commands see it: run records into it and report
// reads summaries back.
type ledger interface {
	sweep.Recorder
	GetSummary(ctx context.Context, sweepID string) (*sweep.Summary, error)
}

// storeProvider creates the ledger. Tests inject a mock instead of a live database.
type storeProvider interface {
	// Create returns the ledger and a cleanup function releasing its connections.
	Create(ctx context.Context, cfg config.Interface) (ledger, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database, makes sure the schema exists, and returns
// the store with a cleanup function closing the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (ledger, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, errors.New("database URL is not configured (EEGSWEEP_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

type reportOptions struct {
	summaryPath string
	sweepID     string
	outputPath  string
	format      string
}

func newReportCmd(provider storeProvider) *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the summary of a finished sweep",
		Long: `Loads a sweep summary either from the sweep_summary.json written into the sweep root
or, with --sweep-id, from the sweep ledger, and prints it as a table or as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, opts, provider, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.summaryPath, "summary", "", "path of a sweep_summary.json file")
	cmd.Flags().StringVar(&opts.sweepID, "sweep-id", "", "ID of a sweep recorded in the ledger")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "output file path (default stdout)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text or json")
	cmd.MarkFlagsMutuallyExclusive("summary", "sweep-id")
	cmd.MarkFlagsOneRequired("summary", "sweep-id")
	return cmd
}

// runReport contains the core, testable logic of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	opts reportOptions,
	provider storeProvider,
	stdout io.Writer,
) error {
	summary, err := loadSummary(ctx, cfg, opts, provider)
	if err != nil {
		return err
	}

	var rep reporting.Reporter
	if opts.outputPath == "" {
		rep, err = reporting.NewWriter(opts.format, stdout)
	} else {
		rep, err = reporting.New(opts.format, opts.outputPath)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := rep.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly.", zap.Error(err))
		}
	}()

	if err := rep.Write(summary); err != nil {
		return err
	}
	if opts.outputPath != "" {
		logger.Info("Report written", zap.String("path", opts.outputPath), zap.String("sweep_id", summary.SweepID))
	}
	return nil
}

func loadSummary(ctx context.Context, cfg config.Interface, opts reportOptions, provider storeProvider) (*sweep.Summary, error) {
	if opts.summaryPath != "" {
		return reporting.ReadSummaryFile(opts.summaryPath)
	}

	l, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	summary, err := l.GetSummary(ctx, opts.sweepID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sweep %s: %w", opts.sweepID, err)
	}
	return summary, nil
}
