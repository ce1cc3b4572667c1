// File: cmd/plan.go
package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/eegsweep/internal/observability"
	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newPlanCmd(d *deps) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan " + positionalUsage,
		Short: "Print the invocations a sweep would run",
		Long: `Takes the same arguments as run and prints one command line per planned invocation,
in execution order, without creating any directory. A random seed is drawn each time the
command runs.`,
		Args: cobra.MinimumNArgs(sweep.PositionalArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			params, err := sweep.ParsePositional(trimSeparator(args))
			if err != nil {
				return err
			}
			plan, err := buildPlan(observability.GetLogger(), cfg, params, d.seedSource)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), plan, asJSON)
		},
	}

	cmd.Flags().SetInterspersed(false)
	addSweepFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func printPlan(w io.Writer, plan *sweep.Plan, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(plan); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return nil
	}

	fmt.Fprintf(w, "# root %s, seeds %v\n", plan.Layout.Root, plan.Seeds)
	fmt.Fprintf(w, "# %d invocations: %d train, %d parse, %d aggregate\n",
		len(plan.Invocations),
		plan.Count(sweep.KindTrain), plan.Count(sweep.KindParse), plan.Count(sweep.KindAggregate))
	for _, inv := range plan.Invocations {
		if _, err := fmt.Fprintln(w, inv.CommandLine()); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
	}
	return nil
}
