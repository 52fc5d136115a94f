// Command kira is the CLI for the Kira vault: serve the daemon, manage
// tasks, run maintenance, and diagnose the installation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirahq/kira/common/trace"
	"github.com/kirahq/kira/common/version"
	"github.com/kirahq/kira/internal/kira/app"
	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/observability"
)

var (
	flagConfig  string
	flagJSON    bool
	flagTraceID string
	flagDryRun  bool
	flagYes     bool
)

var rootCmd = &cobra.Command{
	Use:           "kira",
	Short:         "Kira - personal knowledge and task vault",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		observability.Setup(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&flagTraceID, "trace-id", "", "propagate an existing trace id")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "report intended actions without side effects")
	rootCmd.PersistentFlags().BoolVar(&flagYes, "yes", false, "confirm destructive operations")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	app.RegisterBundledPlugins()
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(kerrors.ExitCode(err))
	}
}

// commandContext returns a context carrying the CLI's trace id.
func commandContext() (context.Context, string) {
	return trace.EnsureID(context.Background(), flagTraceID)
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	if _, err := os.Stat("kira.yaml"); err == nil {
		return config.Load("kira.yaml")
	}
	return config.Default(), nil
}

// stdout is swapped by tests that assert on command output.
var stdout io.Writer = os.Stdout

// printResult renders a success payload. With --json the output is a
// single envelope {"status": "success", "trace_id": ..., "data": {...}};
// otherwise the data renders as key lines.
func printResult(data map[string]any) {
	if flagJSON {
		_, traceID := commandContext()
		out, _ := json.Marshal(map[string]any{
			"status":   "success",
			"trace_id": traceID,
			"data":     data,
		})
		fmt.Fprintln(stdout, string(out))
		return
	}
	for k, val := range data {
		fmt.Fprintf(stdout, "%s: %v\n", k, val)
	}
}

// printError renders a structured failure with the stable error kind tag.
func printError(err error) {
	_, traceID := commandContext()
	if flagJSON {
		out, _ := json.Marshal(map[string]any{
			"status":   "error",
			"error":    err.Error(),
			"trace_id": traceID,
			"kind":     string(kerrors.KindOf(err)),
		})
		fmt.Fprintln(os.Stderr, string(out))
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v (trace %s)\n", err, traceID)
}
