package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/relay/topology"
)

// NewTopologyCmd creates the "topology" subcommand.
func NewTopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology <manifest_root>",
		Short: "Reconcile declared emitters and consumers across manifests",
		Long: `Topology reads every pack/skill manifest under the root and checks
that each declared event has both an emitter and a consumer. The check is
static: it never inspects the runtime event log.`,
		Args: cobra.ExactArgs(1),
		RunE: runTopology,
	}
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func runTopology(cmd *cobra.Command, args []string) error {
	report, err := topology.ValidateRoot(args[0])
	if err != nil {
		return wrapErr(err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return wrapErr(err)
		}
	} else {
		for _, name := range report.OrphanedEmitters {
			fmt.Fprintf(out, "orphaned emitter: %s\n", name)
		}
		for _, name := range report.UnsatisfiedConsumers {
			fmt.Fprintf(out, "unsatisfied consumer: %s\n", name)
		}
		for _, w := range report.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if report.Valid {
			fmt.Fprintln(out, "topology OK")
		}
	}

	if !report.Valid {
		return exitError(exitValidation, "topology validation failed")
	}
	return nil
}
