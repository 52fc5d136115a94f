package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirahq/kira/internal/kira/app"
	"github.com/kirahq/kira/internal/kira/doctor"
	"github.com/kirahq/kira/internal/kira/kerrors"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, _ := commandContext()

		report := doctor.Run(ctx, cfg, app.DefaultPluginRoot)
		if flagJSON {
			printResult(map[string]any{"healthy": report.Healthy, "checks": report.Checks})
		} else {
			for _, c := range report.Checks {
				mark := "ok"
				if !c.OK {
					mark = "FAIL"
				}
				fmt.Printf("%-28s %-4s %s\n", c.Name, mark, c.Detail)
			}
		}
		if !report.Healthy {
			return kerrors.New(kerrors.KindUnknown, "one or more checks failed")
		}
		return nil
	},
}
