package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the "status" subcommand.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize partitions, registrations, offsets and the dead-letter sink",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().Bool("json", false, "Print the status as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := b.Status(cmd.Context())
	if err != nil {
		return wrapErr(err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(out, "backend:       %s\n", st.Backend)
	fmt.Fprintf(out, "storage:       %s\n", st.Dir)
	fmt.Fprintf(out, "registrations: %d\n", st.Registrations)
	fmt.Fprintf(out, "dead letters:  %d\n", st.DeadLetters)

	fmt.Fprintf(out, "partitions (%d):\n", len(st.Partitions))
	for _, p := range st.Partitions {
		fmt.Fprintf(out, "  %-40s %d\n", p.Type, p.Count)
	}

	if len(st.Offsets) > 0 {
		keys := make([]string, 0, len(st.Offsets))
		for k := range st.Offsets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "offsets:")
		for _, k := range keys {
			fmt.Fprintf(out, "  %-40s %d\n", k, st.Offsets[k])
		}
	}
	return nil
}
