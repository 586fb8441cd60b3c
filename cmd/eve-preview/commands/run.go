package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eve-tools/eve-preview/internal/compositor"
	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/cycle"
	"github.com/eve-tools/eve-preview/internal/hotkeys"
	"github.com/eve-tools/eve-preview/internal/logger"
	"github.com/eve-tools/eve-preview/internal/preview"
	"github.com/eve-tools/eve-preview/internal/registry"
	"github.com/eve-tools/eve-preview/internal/session"
	"github.com/eve-tools/eve-preview/internal/xutil"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the preview daemon",
	Long: `Start the eve-preview daemon: track running EVE clients, show a live
thumbnail for each and cycle focus with Tab / Shift+Tab.`,
	Example: `  # Start with the default config
  eve-preview run

  # Start with a specific config file
  eve-preview run --config /path/to/config.yaml

  # Start with debug logging
  eve-preview run --log-level debug --pretty`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	settings := configMgr.Settings()

	level := settings.LogLevel
	if flagLevel := viper.GetString("log_level"); flagLevel != "" {
		level = flagLevel
	}
	logger.Init(level, viper.GetBool("pretty"))
	log := logger.WithComponent("main")

	x, err := xutil.Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer x.Close()

	comp, err := compositor.New(x)
	if err != nil {
		return fmt.Errorf("failed to initialize compositor: %w", err)
	}
	defer comp.Close()

	tracker := registry.NewTracker(x, settings.TitleMarker)
	if err := tracker.SubscribeRoot(); err != nil {
		return fmt.Errorf("failed to subscribe to window events: %w", err)
	}

	keys := hotkeys.New()
	defer keys.Close()

	var coord *session.Coordinator
	surfaces := preview.NewController(x, comp, settings, preview.Callbacks{
		Activate: func(source xproto.Window) {
			coord.Activate(source)
		},
		CommitGeometry: func(identity string, source xproto.Window, geom config.Geometry) {
			coord.CommitGeometry(identity, source, geom)
		},
	})
	defer surfaces.Close()

	coord = session.New(x, session.Options{
		Settings: settings,
		Store:    configMgr,
		Registry: tracker,
		Surfaces: surfaces,
		Mirrors:  comp,
		Cycle:    cycle.New(settings.CycleOrder),
		Commands: keys.Commands(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("title_marker", settings.TitleMarker).
		Bool("hotkeys", keys.Enabled()).
		Bool("mirroring", x.MirroringAvailable()).
		Msg("eve-preview running")

	if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("Shutting down")
	return nil
}
