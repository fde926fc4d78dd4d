package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/camarigor/sentinel/internal/app"
	"github.com/camarigor/sentinel/internal/config"
	"github.com/camarigor/sentinel/internal/logging"
)

var (
	cfgFile   string
	dbPath    string
	logLevel  string
	logFormat string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Monitor Monero mining rigs and a P2Pool sidechain presence",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override SQLite database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (console or json)")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testAlertCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
