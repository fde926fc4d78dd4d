package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/camarigor/sentinel/internal/export"
)

var (
	exportHost      string
	exportAddress   string
	exportSince     string
	exportFormat    string
	exportOut       string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export history as CSV data or a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOut == "" {
			return errors.New("--out is required")
		}

		opts := export.Options{
			Host:      exportHost,
			Address:   exportAddress,
			MaxPoints: exportMaxPoints,
		}

		if exportSince != "" {
			d, err := time.ParseDuration(exportSince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			opts.Since = time.Now().Add(-d)
		}

		switch exportFormat {
		case "csv":
			opts.CSVPath = exportOut
		case "png":
			opts.PNGPath = exportOut
		default:
			return fmt.Errorf("invalid --format value %q (want csv or png)", exportFormat)
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportHost, "host", "", "Export miner history for this host")
	exportCmd.Flags().StringVar(&exportAddress, "address", "", "Export P2Pool history for this wallet")
	exportCmd.Flags().StringVar(&exportSince, "since", "168h", "How far back to export (Go duration)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv or png")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file path")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to 1000)")
}
