package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a test notification to the configured webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().TestAlert(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "test alert delivered")
		return nil
	},
}
