package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// NewMaintainCmd creates the "maintain" subcommand: a long-running loop
// that compacts the partitions and the dead-letter sink on a UTC cron
// schedule. The bus itself stays daemonless; this is an optional
// operator convenience around the compact commands.
func NewMaintainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run retention compaction on a cron schedule",
		Args:  cobra.NoArgs,
		RunE:  runMaintain,
	}

	cmd.Flags().String("schedule", "0 3 * * *", "UTC cron expression")
	cmd.Flags().Int("retain-days", defaultRetentionDays, "Partition retention window in days")
	cmd.Flags().Int("retain-dlq-days", defaultRetentionDays, "Dead-letter retention window in days")
	cmd.Flags().Bool("once", false, "Run one compaction pass and exit")

	return cmd
}

func runMaintain(cmd *cobra.Command, args []string) error {
	expr, _ := cmd.Flags().GetString("schedule")
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}
	retainDays, _ := cmd.Flags().GetInt("retain-days")
	retainDLQDays, _ := cmd.Flags().GetInt("retain-dlq-days")
	once, _ := cmd.Flags().GetBool("once")

	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	logger := newLogger(cmd)
	ctx := cmd.Context()

	pass := func() error {
		removed, err := b.Compact(ctx, time.Duration(retainDays)*24*time.Hour)
		if err != nil {
			return wrapErr(err)
		}
		dlqRemoved, err := b.CompactDeadLetters(ctx, time.Duration(retainDLQDays)*24*time.Hour)
		if err != nil {
			return wrapErr(err)
		}
		logger.Info("compaction pass complete", "events_removed", removed, "dlq_removed", dlqRemoved)
		return nil
	}

	if once {
		return pass()
	}

	for {
		next := schedule.Next(time.Now().UTC())
		logger.Info("next compaction", "at", next.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}
		if err := pass(); err != nil {
			return err
		}
	}
}

// parseCronExpressionUTC parses a 5-field cron expression, rejecting
// timezone prefixes so schedules are unambiguous across hosts.
func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}
