package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/richinsley/comfy2ayon/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and check the addon settings",
}

var settingsDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default addon settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		var (
			out []byte
			err error
		)
		switch format {
		case "yaml":
			out, err = settings.Defaults().YAML()
		case "json":
			out, err = settings.Defaults().JSON()
		case "schema":
			out = []byte(settings.Schema())
		default:
			return fmt.Errorf("unknown format %q", format)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	},
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a settings JSON document against the schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		s, err := settings.ParseValid(raw)
		if err != nil {
			return err
		}
		fmt.Printf("%s: valid, %d plugins, ComfyUI %s\n", args[0], len(s.Repositories.Plugins), s.Repositories.Base.Tag)
		return nil
	},
}

func init() {
	settingsDefaultsCmd.Flags().String("format", "yaml", "output format: yaml, json or schema")
	settingsCmd.AddCommand(settingsDefaultsCmd, settingsValidateCmd)
}
