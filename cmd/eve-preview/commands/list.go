package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/logger"
	"github.com/eve-tools/eve-preview/internal/registry"
	"github.com/eve-tools/eve-preview/internal/xutil"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List running EVE client windows",
	Long: `List every window currently matching the EVE client title pattern,
with its derived character identity, geometry and state.`,
	Example: `  # List clients in table format (default)
  eve-preview list

  # List clients in JSON format
  eve-preview list --format json`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
}

func runList(cmd *cobra.Command, args []string) error {
	logger.Init("warn", true)

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	x, err := xutil.Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer x.Close()

	tracker := registry.NewTracker(x, configMgr.Settings().TitleMarker)
	if _, err := tracker.Reconcile(); err != nil {
		return fmt.Errorf("failed to query windows: %w", err)
	}
	windows := tracker.Set().Windows()

	if listFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(windows)
	}

	if len(windows) == 0 {
		fmt.Println("No EVE client windows found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WINDOW\tIDENTITY\tTITLE\tGEOMETRY\tMINIMIZED")
	for _, win := range windows {
		identity := win.Identity
		if identity == "" {
			identity = "(logged out)"
		}
		fmt.Fprintf(w, "0x%x\t%s\t%s\t%dx%d+%d+%d\t%v\n",
			win.Handle, identity, win.Title,
			win.Geometry.Width, win.Geometry.Height, win.Geometry.X, win.Geometry.Y,
			win.Minimized)
	}
	return w.Flush()
}
