package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/richinsley/comfy2ayon/ayon"
	"github.com/richinsley/comfy2ayon/config"
	"github.com/richinsley/comfy2ayon/logger"
)

var (
	version = "dev"
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "comfy2ayon",
	Short: "Connect ComfyUI to an AYON pipeline",
	Long: `comfy2ayon launches ComfyUI for an AYON project, serves the endpoints the
ComfyUI publish nodes call and publishes rendered files as AYON versions.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./comfy2ayon.yaml or ~/.config/comfy2ayon/comfy2ayon.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("comfy-address", "", "ComfyUI address")
	rootCmd.PersistentFlags().Int("comfy-port", 0, "ComfyUI port")
	rootCmd.PersistentFlags().String("project", "", "AYON project name")

	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("comfy.address", rootCmd.PersistentFlags().Lookup("comfy-address"))
	_ = v.BindPFlag("comfy.port", rootCmd.PersistentFlags().Lookup("comfy-port"))
	_ = v.BindPFlag("context.project", rootCmd.PersistentFlags().Lookup("project"))

	rootCmd.AddCommand(serveCmd, publishCmd, launchCmd, applyCmd, settingsCmd, statsCmd)
}

// app is what every command builds from the loaded configuration.
type app struct {
	cfg *config.Config
	log logger.Logger
	svc *ayon.CachedService
}

// loadApp reads the configuration and wires the logger and the cached AYON client.
// Unset flags don't override lower precedence sources because viper only consults a
// bound flag once it has been changed.
func loadApp() (*app, error) {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return nil, err
	}
	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	client := ayon.NewClient(cfg.Ayon, log)
	return &app{
		cfg: cfg,
		log: log,
		svc: ayon.NewCachedService(client, cfg.Cache.TTL, cfg.Cache.CleanupInterval, log),
	}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

func requireProject(cfg *config.Config) error {
	if cfg.Context.Project == "" {
		return fmt.Errorf("no project: pass --project or set AYON_PROJECT_NAME")
	}
	return nil
}
