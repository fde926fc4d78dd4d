package cli

import (
	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if cmd.Flags().Changed("listen") {
			a.Config.Serve.Listen = serveListen
		}

		return a.Serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Bind address (overrides config)")
}
