package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Flags
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "tb-correlate",
	Short: "TinkerBelle audit correlation tool",
	Long: `tb-correlate correlates cloud audit-log events with Kubernetes cluster
state during incident response. It resolves federated workload identities,
grades every event-to-workload match with an explicit confidence level, and
seals the results into a write-once, hash-verified evidence bundle.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("tb-correlate %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
