package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/relay/bus"
)

// NewQueryCmd creates the "query" subcommand.
func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Scan stored events with conjunctive filters",
		Args:  cobra.NoArgs,
		RunE:  runQuery,
	}

	cmd.Flags().String("type", "", "Event type (omit to scan all partitions)")
	cmd.Flags().String("since", "", "Earliest time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().String("until", "", "Latest time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().String("source", "", "Producing component")
	cmd.Flags().String("correlation", "", "Correlation id")
	cmd.Flags().Int("limit", 100, "Maximum results (0 for no limit)")
	cmd.Flags().Bool("json", false, "Print envelopes as JSON lines")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	f := bus.Filter{}
	f.Type, _ = cmd.Flags().GetString("type")
	f.Source, _ = cmd.Flags().GetString("source")
	f.CorrelationID, _ = cmd.Flags().GetString("correlation")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	var err error
	if since, _ := cmd.Flags().GetString("since"); since != "" {
		f.Since, err = parseTime(since)
		if err != nil {
			return exitError(exitValidation, "invalid --since: %v", err)
		}
	}
	if until, _ := cmd.Flags().GetString("until"); until != "" {
		f.Until, err = parseTime(until)
		if err != nil {
			return exitError(exitValidation, "invalid --until: %v", err)
		}
	}

	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	envs, err := b.Query(cmd.Context(), f)
	if err != nil {
		return wrapErr(err)
	}

	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	for _, env := range envs {
		if asJSON {
			raw, err := json.Marshal(env)
			if err != nil {
				return wrapErr(err)
			}
			fmt.Fprintln(out, string(raw))
			continue
		}
		fmt.Fprintf(out, "%s  %s  %s  %s\n",
			env.Time.Format(time.RFC3339), env.Type, env.Source, env.ID)
	}
	if !asJSON {
		fmt.Fprintf(out, "%d event(s)\n", len(envs))
	}
	return nil
}

// parseTime accepts RFC 3339 or a bare date.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
