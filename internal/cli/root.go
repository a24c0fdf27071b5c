package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/finchwork/finch/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"   __ _            _\n" +
		"  / _(_)_ __   ___| |__\n" +
		" | |_| | '_ \\ / __| '_ \\\n" +
		" |  _| | | | | (__| | | |\n" +
		" |_| |_|_| |_|\\___|_| |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "finch",
	Short: "Finch - autonomous social media agent",
	Long:  color.CyanString(logo) + "\nAn autonomous agent that drafts, schedules, and publishes social posts\nwith human approval gates.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(title string) {
	fmt.Println()
	color.Cyan(title)
}
