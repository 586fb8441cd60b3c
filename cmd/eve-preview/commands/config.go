package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print the settings the daemon would run with: the active profile merged
with global options and any environment overrides.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	logger.Init("warn", true)

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("# %s\n", configMgr.ConfigPath())
	if configMgr.Degraded() {
		fmt.Println("# WARNING: config file unreadable, showing in-memory defaults")
	}

	out, err := yaml.Marshal(configMgr.Settings())
	if err != nil {
		return fmt.Errorf("failed to render settings: %w", err)
	}
	fmt.Print(string(out))

	fmt.Println("\n# persisted character placements")
	for _, identity := range configMgr.Identities() {
		if geom, ok := configMgr.Layout(identity); ok {
			fmt.Printf("#   %s: %dx%d+%d+%d\n", identity, geom.Width, geom.Height, geom.X, geom.Y)
		}
	}
	return nil
}
