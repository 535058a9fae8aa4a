package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "admob-dash",
		Short: "AdMob revenue dashboard service",
		RunE:  serve,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP API",
		RunE:  serve,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	cfgFile string
	version = "dev"
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "first day, YYYY-MM-DD (default: range_days before --to)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "last day, YYYY-MM-DD (default: today)")
	reportCmd.Flags().IntVar(&reportTop, "top", 10, "rows per summary table")
	rootCmd.AddCommand(serveCmd, reportCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		slog.Default().Error("admob-dash failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
