// Command cms runs the training site backend and its snapshot sync operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xelth-com/trainingcms/internal/buildinfo"
	"github.com/xelth-com/trainingcms/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:     "cms",
	Short:   "Training site backend with snapshot sync",
	Version: buildinfo.Version,
	Long: `cms serves the training site API and keeps every collection mirrored
to a snapshot file.

Examples:
  cms serve
  cms export courses events
  cms plan courses
  cms import courses --dry-run
  cms expire messages`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if path, _ := cmd.Flags().GetString("sync-config"); path != "" {
			os.Setenv("SYNC_CONFIG_PATH", path)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("sync-config", "", "Path to the sync configuration file (JSON or YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
