package cli

import (
	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete history beyond the retention window and compact the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cleanup(cmd.Context(), cleanupDays)
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention window in days (defaults to config)")
}
