package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewDLQCmd creates the "dlq" subcommand.
func NewDLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List dead-letter entries",
		Args:  cobra.NoArgs,
		RunE:  runDLQ,
	}
	cmd.Flags().Bool("json", false, "Print entries as JSON lines")
	return cmd
}

func runDLQ(cmd *cobra.Command, args []string) error {
	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := b.DeadLetters(cmd.Context())
	if err != nil {
		return wrapErr(err)
	}

	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	for _, e := range entries {
		if asJSON {
			raw, err := json.Marshal(e)
			if err != nil {
				return wrapErr(err)
			}
			fmt.Fprintln(out, string(raw))
			continue
		}
		fmt.Fprintf(out, "%s  %s  %s  exit=%d  event=%s\n",
			e.Time.Format(time.RFC3339), e.EventType, e.Handler, e.ExitCode, e.Envelope.ID)
	}
	if !asJSON {
		fmt.Fprintf(out, "%d entr(ies)\n", len(entries))
	}
	return nil
}
