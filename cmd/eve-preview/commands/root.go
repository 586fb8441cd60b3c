package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "eve-preview",
		Short: "eve-preview - live thumbnails for multiboxed EVE clients",
		Long: `eve-preview shows a small always-on-top live preview of every running
EVE Online client and makes switching between them fast.

Features:
  • Live thumbnail of each client via the X Composite extension
  • Click a preview to focus its client
  • Drag previews with edge snapping, placement persisted per character
  • Tab / Shift+Tab cycling through clients in a configurable order
  • Per-profile appearance settings`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/eve-preview/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable log output")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
