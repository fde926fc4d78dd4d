package cli

import (
	"github.com/spf13/cobra"
)

var (
	probeHost    string
	probePort    int
	probeToken   string
	probeAddress string
	probeNetwork string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run one polling cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		flags := cmd.Flags()
		if flags.Changed("host") {
			a.Config.Miner.Host = probeHost
		}
		if flags.Changed("port") {
			a.Config.Miner.Port = probePort
		}
		if flags.Changed("token") {
			a.Config.Miner.Token = probeToken
		}
		if flags.Changed("address") {
			a.Config.P2Pool.Address = probeAddress
		}
		if flags.Changed("network") {
			a.Config.P2Pool.Network = probeNetwork
		}
		if err := a.Config.Validate(); err != nil {
			return err
		}

		return a.Probe(cmd.Context())
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeHost, "host", "", "Miner host to poll (overrides config)")
	probeCmd.Flags().IntVar(&probePort, "port", 0, "XMRig API port (overrides config)")
	probeCmd.Flags().StringVar(&probeToken, "token", "", "XMRig API access token (overrides config)")
	probeCmd.Flags().StringVar(&probeAddress, "address", "", "P2Pool wallet address to track (overrides config)")
	probeCmd.Flags().StringVar(&probeNetwork, "network", "", "P2Pool sidechain: main, mini or nano (overrides config)")
}
