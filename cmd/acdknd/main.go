// Acdknd is the cross-domain semantic integration daemon.
//
// It ingests knowledge units from several domains, finds semantically
// aligned pairs across domains, records strategy decisions for them and
// learns from reported outcomes.
//
// Usage:
//
//	# Start the daemon with ~/.config/acdkn/config.yaml
//	acdknd serve
//
//	# One-shot detection over a JSON file of units
//	acdknd detect --input units.json
//
//	# Override settings from the environment
//	ACDKN_STORE_BACKEND=badger ACDKN_SERVER_HTTP_PORT=9300 acdknd serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "acdknd",
		Short: "Cross-domain semantic integration daemon",
		Long: `acdknd detects points where knowledge from different domains can be
aligned, synchronizes decided alignments to downstream consumers over NATS
and calibrates its strategy predictions from reported outcomes.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/acdkn/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newDetectCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "acdknd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
