package cli

import (
	"github.com/spf13/cobra"
)

var (
	scanCIDR        string
	scanPort        int
	scanConcurrency int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sweep a subnet for rigs exposing the XMRig API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		flags := cmd.Flags()
		if flags.Changed("cidr") {
			a.Config.Scan.CIDR = scanCIDR
		}
		if flags.Changed("port") {
			a.Config.Miner.Port = scanPort
		}
		if flags.Changed("concurrency") {
			a.Config.Scan.Concurrency = scanConcurrency
		}
		if err := a.Config.Validate(); err != nil {
			return err
		}

		return a.Scan(cmd.Context())
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanCIDR, "cidr", "", "Subnet to sweep, e.g. 192.168.1.0/24 (defaults to detected local subnets)")
	scanCmd.Flags().IntVar(&scanPort, "port", 0, "XMRig API port to probe (overrides config)")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "Parallel probe limit (overrides config)")
}
