// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eegsweep/internal/config"
	"github.com/xkilldash9x/eegsweep/internal/observability"
	"github.com/xkilldash9x/eegsweep/internal/runner"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

type contextKey string

const configKey contextKey = "config"

// Exit codes returned by Execute.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// flagKeys maps command flags onto the configuration keys they override.
var flagKeys = map[string]string{
	"python":          "sweep.python",
	"trainer":         "sweep.trainer",
	"parser":          "sweep.parser",
	"aggregator":      "sweep.aggregator",
	"work-dir":        "sweep.work_dir",
	"failure-policy":  "sweep.failure_policy",
	"capture-output":  "sweep.capture_trainer_output",
	"launch-interval": "sweep.min_launch_interval",
}

// deps holds the collaborators the commands reach outside the process through.
type deps struct {
	newRunner  func(logger *zap.Logger, stdout, stderr io.Writer) runner.Runner
	stores     storeProvider
	seedSource func() int
	// driverOpts are appended after the options derived from configuration.
	driverOpts []sweep.Option
}

func defaultDeps() *deps {
	return &deps{
		newRunner: func(logger *zap.Logger, stdout, stderr io.Writer) runner.Runner {
			return runner.NewExecRunner(logger, runner.WithConsole(stdout, stderr))
		},
		stores:     NewStoreProvider(),
		seedSource: sweep.DefaultSeedSource,
	}
}

// NewRootCommand builds the eegsweep command tree wired to the real process runner and ledger.
func NewRootCommand() *cobra.Command {
	return newRootCmd(defaultDeps())
}

func newRootCmd(d *deps) *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "eegsweep",
		Short: "eegsweep drives EEG decoding benchmark sweeps.",
		Long: `eegsweep drives EEG decoding benchmark sweeps.

It runs an EEG decoding benchmark over a range of seeds. For every seed it
trains one model per held-out subject (and per held-out session), parses the per-seed
results, and finally aggregates performance across all seeds.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			if err := observability.InitializeLogger(cfg.Logger()); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			observability.GetLogger().Debug("Starting eegsweep",
				zap.String("version", Version),
				zap.String("command", cmd.CommandPath()),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newRunCmd(d))
	cmd.AddCommand(newPlanCmd(d))
	cmd.AddCommand(newReportCmd(d.stores))
	cmd.AddCommand(newTailCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// initializeConfig layers the config file, environment, and flags of cmd onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("EEGSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("error binding flag --%s: %w", name, err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}

// Execute runs the command tree and maps the outcome to a process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	observability.Sync()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, sweep.ErrInvalidParams):
		return exitUsage
	default:
		return exitFailure
	}
}
