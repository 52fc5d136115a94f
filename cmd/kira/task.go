package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirahq/kira/internal/kira/app"
	"github.com/kirahq/kira/internal/kira/dedupe"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/vault"
)

var (
	flagTaskStatus     string
	flagTaskTags       []string
	flagTaskDue        string
	flagTaskContent    string
	flagTaskTitle      string
	flagTaskExternalID string
	flagTaskSource     string
	flagListStatus     string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, update, and list tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, _ := commandContext()

		data := map[string]any{"title": args[0]}
		if flagTaskStatus != "" {
			data["status"] = flagTaskStatus
		}
		if len(flagTaskTags) > 0 {
			tags := make([]any, len(flagTaskTags))
			for i, t := range flagTaskTags {
				tags[i] = t
			}
			data["tags"] = tags
		}
		if flagTaskDue != "" {
			if _, err := a.Clock.ParseISO(flagTaskDue); err != nil {
				return err
			}
			data["due"] = flagTaskDue
		}

		if flagDryRun {
			printResult(map[string]any{"dry_run": true, "would_create": data})
			return nil
		}

		// An external id makes the command idempotent: replaying the same
		// source event is a soft no-op.
		var eventID string
		if flagTaskExternalID != "" {
			eventID = dedupe.GenerateEventID(flagTaskSource, flagTaskExternalID, data)
			dup, err := a.Dedupe.IsDuplicate(ctx, eventID)
			if err != nil {
				return err
			}
			if dup {
				return kerrors.Duplicate("event %s from %s was already captured; no new task created",
					flagTaskExternalID, flagTaskSource)
			}
		}

		e, err := a.API.CreateEntity(ctx, vault.TypeTask, data, flagTaskContent)
		audited := "ok"
		if err != nil {
			audited = err.Error()
		}
		_ = a.Audit.Log(ctx, "task.create", map[string]any{"title": args[0]}, audited)
		if err != nil {
			return err
		}
		if eventID != "" {
			_ = a.Dedupe.MarkSeen(ctx, eventID, flagTaskSource, flagTaskExternalID)
		}
		printResult(map[string]any{"task_id": e.ID, "task_status": e.Status()})
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task's fields or move it through the state machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, _ := commandContext()

		patch := map[string]any{}
		if flagTaskTitle != "" {
			patch["title"] = flagTaskTitle
		}
		if flagTaskStatus != "" {
			patch["status"] = flagTaskStatus
		}
		if len(flagTaskTags) > 0 {
			tags := make([]any, len(flagTaskTags))
			for i, t := range flagTaskTags {
				tags[i] = t
			}
			patch["tags"] = tags
		}
		if flagTaskDue != "" {
			if _, err := a.Clock.ParseISO(flagTaskDue); err != nil {
				return err
			}
			patch["due"] = flagTaskDue
		}
		if cmd.Flags().Changed("content") {
			patch["content"] = flagTaskContent
		}
		if len(patch) == 0 {
			return fmt.Errorf("nothing to update; pass at least one field flag")
		}

		if flagDryRun {
			printResult(map[string]any{"dry_run": true, "would_patch": patch, "id": args[0]})
			return nil
		}

		e, err := a.API.UpdateEntity(ctx, args[0], patch)
		audited := "ok"
		if err != nil {
			audited = err.Error()
		}
		_ = a.Audit.Log(ctx, "task.update", map[string]any{"id": args[0], "patch": patch}, audited)
		if err != nil {
			return err
		}
		printResult(map[string]any{"task_id": e.ID, "task_status": e.Status()})
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		type row struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Status string `json:"status"`
		}
		var rows []row
		for e, err := range a.API.ListEntities(vault.TypeTask) {
			if err != nil {
				return err
			}
			if flagListStatus != "" && e.Status() != flagListStatus {
				continue
			}
			rows = append(rows, row{ID: e.ID, Title: e.Title(), Status: e.Status()})
		}

		if flagJSON {
			printResult(map[string]any{"tasks": rows, "count": len(rows)})
			return nil
		}
		for _, r := range rows {
			fmt.Printf("%-45s %-8s %s\n", r.ID, r.Status, r.Title)
		}
		fmt.Printf("%d task(s)\n", len(rows))
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&flagTaskStatus, "status", "", "initial status (default todo)")
	taskCreateCmd.Flags().StringSliceVar(&flagTaskTags, "tag", nil, "tag (repeatable)")
	taskCreateCmd.Flags().StringVar(&flagTaskDue, "due", "", "due date (ISO-8601)")
	taskCreateCmd.Flags().StringVar(&flagTaskContent, "content", "", "task body")
	taskCreateCmd.Flags().StringVar(&flagTaskExternalID, "external-id", "", "source event id for idempotent creation")
	taskCreateCmd.Flags().StringVar(&flagTaskSource, "source", "cli", "source name paired with --external-id")

	taskUpdateCmd.Flags().StringVar(&flagTaskTitle, "title", "", "new title")
	taskUpdateCmd.Flags().StringVar(&flagTaskStatus, "status", "", "new status")
	taskUpdateCmd.Flags().StringSliceVar(&flagTaskTags, "tag", nil, "replacement tags (repeatable)")
	taskUpdateCmd.Flags().StringVar(&flagTaskDue, "due", "", "due date (ISO-8601)")
	taskUpdateCmd.Flags().StringVar(&flagTaskContent, "content", "", "replacement body")

	taskListCmd.Flags().StringVar(&flagListStatus, "status", "", "filter by status")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskListCmd)
}

// openApp builds the application without starting background services.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.Options{})
}
