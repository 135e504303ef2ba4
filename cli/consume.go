package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewConsumeCmd creates the "consume" subcommand.
func NewConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume <type> <handler> [consumer_group]",
		Short: "Pull unprocessed events for a consumer group and deliver them",
		Long: `Consume reads events strictly after the group's stored offset,
delivers each through the handler, and advances the offset by the number
of lines read. Failed deliveries land in the dead-letter sink.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runConsume,
	}
}

func runConsume(cmd *cobra.Command, args []string) error {
	eventType := args[0]
	handler := parseHandler(args[1])
	group := "default"
	if len(args) > 2 {
		group = args[2]
	}

	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := b.Consume(cmd.Context(), eventType, handler, group)
	if err != nil {
		return wrapErr(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "read %d, delivered %d, skipped %d, failed %d\n",
		res.Read, res.Delivered, res.Skipped, res.Failed)
	return nil
}
