package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/relay/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay local event bus CLI",
	Long:  "Relay is a file-backed publish/subscribe broker for typed events, with no daemon and no network socket.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("dir", "", "Storage root (default .relay, or RELAY_DIR)")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP/HTTP endpoint for trace export")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("relay version %s\n", version))

	rootCmd.AddCommand(cli.NewEmitCmd())
	rootCmd.AddCommand(cli.NewConsumeCmd())
	rootCmd.AddCommand(cli.NewQueryCmd())
	rootCmd.AddCommand(cli.NewRegisterCmd())
	rootCmd.AddCommand(cli.NewUnregisterCmd())
	rootCmd.AddCommand(cli.NewStatusCmd())
	rootCmd.AddCommand(cli.NewCompactCmd())
	rootCmd.AddCommand(cli.NewCompactDLQCmd())
	rootCmd.AddCommand(cli.NewDLQCmd())
	rootCmd.AddCommand(cli.NewTopologyCmd())
	rootCmd.AddCommand(cli.NewMaintainCmd())
}
