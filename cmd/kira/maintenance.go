package main

import (
	"github.com/spf13/cobra"

	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/maintenance"
)

var flagRestoreTarget string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive the vault into the backup directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagDryRun {
			printResult(map[string]any{"dry_run": true, "would_backup": cfg.Vault.Path})
			return nil
		}
		archive, err := maintenance.Backup(cfg.Vault.Path, cfg.Backup.BackupDir, cfg.Backup.Compress)
		if err != nil {
			return err
		}
		removed, err := maintenance.CleanupOldBackups(cfg.Backup.BackupDir, cfg.Backup.RetentionCount)
		if err != nil {
			return err
		}
		printResult(map[string]any{"archive": archive, "pruned": removed})
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Extract a backup archive into the vault path",
	Long: `Extracts a backup archive into the restore target (the configured
vault path unless --target is given). A non-empty target is refused
unless --yes is passed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target := flagRestoreTarget
		if target == "" {
			target = cfg.Vault.Path
		}

		if flagDryRun {
			printResult(map[string]any{"dry_run": true, "would_restore": args[0], "target": target})
			return nil
		}
		if err := maintenance.Restore(args[0], target, flagYes); err != nil {
			return err
		}
		printResult(map[string]any{"restored": args[0], "target": target})
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run retention cleanup on dedupe, quarantine, and logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, _ := commandContext()

		if flagDryRun {
			printResult(map[string]any{"dry_run": true, "ttl_days": map[string]any{
				"dedupe":     a.Config.Cleanup.DedupeTTLDays,
				"quarantine": a.Config.Cleanup.QuarantineTTLDays,
				"logs":       a.Config.Cleanup.LogTTLDays,
			}})
			return nil
		}

		dedupeN, err := a.Maintenance.CleanupDedupe(ctx, a.Config.Cleanup.DedupeTTLDays)
		if err != nil {
			return kerrors.IO(err, "dedupe cleanup")
		}
		quarN, err := a.Maintenance.CleanupQuarantine(a.Config.Cleanup.QuarantineTTLDays)
		if err != nil {
			return kerrors.IO(err, "quarantine cleanup")
		}
		logN, err := a.Maintenance.CleanupLogs(a.Config.Cleanup.LogTTLDays)
		if err != nil {
			return kerrors.IO(err, "log cleanup")
		}
		printResult(map[string]any{
			"dedupe_purged":      dedupeN,
			"quarantine_removed": quarN,
			"logs_removed":       logN,
		})
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVar(&flagRestoreTarget, "target", "", "restore target directory (default: vault path)")
}
