package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/relay/bus"
)

// NewEmitCmd creates the "emit" subcommand.
func NewEmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <type> <data_json> <source> [correlation_id] [causation_id]",
		Short: "Append an event and broadcast it to registered handlers",
		Args:  cobra.RangeArgs(3, 5),
		RunE:  runEmit,
	}

	cmd.Flags().String("subject", "", "Entity the event concerns")
	cmd.Flags().Bool("json", false, "Print the full envelope as JSON")

	return cmd
}

func runEmit(cmd *cobra.Command, args []string) error {
	eventType, dataJSON, source := args[0], args[1], args[2]

	var opts []bus.EnvelopeOption
	if len(args) > 3 && args[3] != "" {
		opts = append(opts, bus.WithCorrelationID(args[3]))
	}
	if len(args) > 4 && args[4] != "" {
		opts = append(opts, bus.WithCausationID(args[4]))
	}
	if subject, _ := cmd.Flags().GetString("subject"); subject != "" {
		opts = append(opts, bus.WithSubject(subject))
	}

	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	env, res, err := b.EmitJSON(cmd.Context(), eventType, dataJSON, source, opts...)
	if err != nil {
		return wrapErr(err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	fmt.Fprintln(out, env.ID)
	if res.Failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d delivery failure(s) recorded in the dead-letter sink\n", res.Failed)
	}
	return nil
}
