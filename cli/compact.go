package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// defaultRetentionDays applies when compact is run without an argument.
const defaultRetentionDays = 30

// NewCompactCmd creates the "compact" subcommand.
func NewCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact [retention_days]",
		Short: "Prune partition events older than the retention window",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCompact,
	}
}

func runCompact(cmd *cobra.Command, args []string) error {
	retention, err := retentionArg(args)
	if err != nil {
		return err
	}

	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := b.Compact(cmd.Context(), retention)
	if err != nil {
		return wrapErr(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d event(s)\n", removed)
	return nil
}

// NewCompactDLQCmd creates the "compact-dlq" subcommand.
func NewCompactDLQCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact-dlq [retention_days]",
		Short: "Prune dead-letter entries older than the retention window",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCompactDLQ,
	}
}

func runCompactDLQ(cmd *cobra.Command, args []string) error {
	retention, err := retentionArg(args)
	if err != nil {
		return err
	}

	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := b.CompactDeadLetters(cmd.Context(), retention)
	if err != nil {
		return wrapErr(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d dead-letter entr(ies)\n", removed)
	return nil
}

func retentionArg(args []string) (time.Duration, error) {
	days := defaultRetentionDays
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return 0, exitError(exitValidation, "retention_days must be a non-negative integer, got %q", args[0])
		}
		days = n
	}
	return time.Duration(days) * 24 * time.Hour, nil
}
