package main

import (
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/comfy2ayon/launcher"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Install and start ComfyUI for a project",
	Long: `Launch solves the ComfyUI root from the addon settings, clones ComfyUI and the
configured custom nodes, wires extra model directories and runs the launch script.`,
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().String("addon-version", version, "addon version the settings are read for")
	launchCmd.Flags().String("script", "", "launch script")
	_ = v.BindPFlag("comfy.launch_script", launchCmd.Flags().Lookup("script"))
}

func runLaunch(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := requireProject(a.cfg); err != nil {
		return err
	}
	addonVersion, _ := cmd.Flags().GetString("addon-version")

	l := launcher.New(a.svc, launcher.NewRealExecutor(), a.cfg.Comfy, addonVersion, a.log)
	bar := progressbar.Default(4, "launch")
	l.OnStep = func(step string) {
		bar.Describe(step)
		_ = bar.Add(1)
	}
	return l.Launch(cmd.Context(), a.cfg.Context.Project)
}
