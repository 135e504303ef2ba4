package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/relay/core"
)

// NewRegisterCmd creates the "register" subcommand.
func NewRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <type> <handler> [delivery_mode] [consumer_group]",
		Short: "Bind a handler to an event type",
		Args:  cobra.RangeArgs(2, 4),
		RunE:  runRegister,
	}
}

func runRegister(cmd *cobra.Command, args []string) error {
	reg := core.Registration{
		Type:    args[0],
		Handler: parseHandler(args[1]),
		Mode:    core.DeliveryBroadcast,
	}
	if len(args) > 2 {
		reg.Mode = core.DeliveryMode(args[2])
	}
	if len(args) > 3 {
		reg.ConsumerGroup = args[3]
	}

	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := b.Register(cmd.Context(), reg); err != nil {
		return wrapErr(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered %s -> %s (%s)\n", reg.Type, reg.Handler, reg.Mode)
	return nil
}

// NewUnregisterCmd creates the "unregister" subcommand.
func NewUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <type> <handler>",
		Short: "Remove a handler binding",
		Args:  cobra.ExactArgs(2),
		RunE:  runUnregister,
	}
}

func runUnregister(cmd *cobra.Command, args []string) error {
	b, cleanup, err := openBus(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := parseHandler(args[1])
	if err := b.Unregister(cmd.Context(), args[0], handler); err != nil {
		return wrapErr(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "unregistered %s -> %s\n", args[0], handler)
	return nil
}
