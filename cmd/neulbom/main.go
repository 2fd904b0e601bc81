// Command neulbom is the elder-care voice companion server.
//
//	neulbom serve   --config neulbom.yaml
//	neulbom analyze --config neulbom.yaml recording.wav
//	neulbom version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cho1y0/neulbom/internal/app"
	"github.com/cho1y0/neulbom/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "neulbom: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "neulbom",
		Short:         "Voice companion that tracks the wellbeing of seniors living alone",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "neulbom.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newAnalyzeCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "neulbom %s\n", version)
		},
	}
}

// loadConfig loads path and installs the default logger at the configured
// level. The returned LevelVar lets reloads change the level later.
func loadConfig(path string) (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))
	return cfg, &level, nil
}
