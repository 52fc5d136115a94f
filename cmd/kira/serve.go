package main

import (
	"github.com/spf13/cobra"

	"github.com/kirahq/kira/internal/kira/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Kira daemon: pipelines, plugins, and maintenance",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, _ := commandContext()
		return a.Run(ctx)
	},
}
