package main

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/melih/lighthouse-updater/internal/config"
)

// Globals for the persistent flags and version reporting.
var (
	configPath   string
	debug        bool
	buildVersion string
)

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfg config.Config

	rootCmd := &cobra.Command{
		Use:   "lighthouse-updater",
		Short: "Lighthouse self-updater",
		Long:  "Keeps a containerized Lighthouse installation on the latest published image, with validation and automatic rollback.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			loaded, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return setupLogging(cfg.Log)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
		SilenceUsage: true,
		Version:      buildVersion,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.BoolVar(&debug, "debug", false, "enable debug level logging")

	rootCmd.AddCommand(
		newServeCmd(v, &cfg),
		newCheckCmd(&cfg),
		newUpdateCmd(&cfg),
	)
	return rootCmd
}

func setupLogging(lc config.LogConfig) error {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(lc.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func main() {
	rootCmd := newRootCmd(config.New())
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("Error: %v", err)
		os.Exit(1)
	}
}
