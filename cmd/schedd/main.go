// Command schedd runs jobs from a YAML or JSON config file on a single
// scheduler worker.
//
// Usage:
//
//	schedd run --config ./schedd.yaml
//	schedd validate --config ./schedd.yaml
//	schedd next --every 1d --at 2h -n 5
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

// Set by ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "schedd",
		Short:         "Single-worker job scheduler daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), validateCmd(), nextCmd())
	return root
}
