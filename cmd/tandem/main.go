package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "tandem",
	Short:         "tandem is a crash-tolerant sound generation service",
	Long:          "tandem runs a redundant pair of audio workers behind a failover supervisor,\nso output survives worker crashes and live patch replacement without a glitch.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
