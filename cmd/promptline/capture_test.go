package main

import (
	"github.com/spf13/cobra"

	"promptline/internal/config"
)

// newCaptureCmd captures the merged config without building an app.
func newCaptureCmd(dst *config.Config) *cobra.Command {
	return &cobra.Command{Use: "capture", RunE: func(cmd *cobra.Command, args []string) error {
		// opts live on the root; rebuild them from the inherited flags.
		o := &options{}
		f := cmd.Flags()
		o.configPath, _ = f.GetString("config")
		o.envFiles, _ = f.GetStringSlice("env-file")
		o.preset, _ = f.GetString("preset")
		o.model, _ = f.GetString("model")
		o.hordeModels, _ = f.GetString("horde-models")
		o.backend, _ = f.GetString("backend")
		cfg, err := o.loadConfig(cmd)
		*dst = cfg
		return err
	}}
}
