package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/internal/kira/hostapi"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/llm"
	"github.com/kirahq/kira/internal/kira/vault"
)

var taskStatuses = []any{"todo", "doing", "blocked", "review", "done"}

// RegisterBuiltins wires every built-in tool into the registry. exportFn
// runs the vault backup for vault_export; it returns the archive path.
func RegisterBuiltins(r *Registry, api *hostapi.API, ck clock.Clock, exportFn func(ctx context.Context) (string, error)) {
	r.Register(&taskCreateTool{api: api, clock: ck})
	r.Register(&taskUpdateTool{api: api, clock: ck})
	r.Register(&taskListTool{api: api})
	r.Register(&taskDeleteTool{api: api})
	r.Register(&noteCreateTool{api: api})
	r.Register(&entitySearchTool{api: api})
	r.Register(&vaultExportTool{export: exportFn})
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func nonEmptyString() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func tagList() map[string]any {
	return map[string]any{
		"type":     "array",
		"items":    nonEmptyString(),
		"maxItems": 16,
	}
}

func jsonResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(out), nil
}

// --- task_create ---

type taskCreateTool struct {
	api   *hostapi.API
	clock clock.Clock
}

func (t *taskCreateTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "task_create",
			Description: "Create a task in the vault. Returns the new task's id and status.",
			Parameters: objectSchema([]string{"title"}, map[string]any{
				"title":   nonEmptyString(),
				"status":  map[string]any{"type": "string", "enum": taskStatuses},
				"tags":    tagList(),
				"due":     nonEmptyString(),
				"content": map[string]any{"type": "string"},
			}),
		},
	}
}

func (t *taskCreateTool) RequiredCapabilities() []string { return []string{"create"} }
func (t *taskCreateTool) Destructive() bool              { return false }

func (t *taskCreateTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	data := map[string]any{"title": args["title"]}
	if v, ok := args["status"]; ok {
		data["status"] = v
	}
	if v, ok := args["tags"]; ok {
		data["tags"] = v
	}
	if due, ok := args["due"].(string); ok {
		if _, err := t.clock.ParseISO(due); err != nil {
			return "", kerrors.Validation("due %q is not an ISO-8601 date or date-time", due)
		}
		data["due"] = due
	}
	content, _ := args["content"].(string)

	e, err := t.api.CreateEntity(ctx, vault.TypeTask, data, content)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"id": e.ID, "status": e.Status()})
}

// --- task_update ---

type taskUpdateTool struct {
	api   *hostapi.API
	clock clock.Clock
}

func (t *taskUpdateTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "task_update",
			Description: "Update a task's title, status, tags, due date, or content. Status changes follow the task state machine.",
			Parameters: objectSchema([]string{"id"}, map[string]any{
				"id":      nonEmptyString(),
				"title":   nonEmptyString(),
				"status":  map[string]any{"type": "string", "enum": taskStatuses},
				"tags":    tagList(),
				"due":     nonEmptyString(),
				"content": map[string]any{"type": "string"},
			}),
		},
	}
}

func (t *taskUpdateTool) RequiredCapabilities() []string { return []string{"update"} }
func (t *taskUpdateTool) Destructive() bool              { return false }

func (t *taskUpdateTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	id, _ := args["id"].(string)
	patch := make(map[string]any)
	for _, key := range []string{"title", "status", "tags", "due", "content"} {
		if v, ok := args[key]; ok {
			patch[key] = v
		}
	}
	if due, ok := patch["due"].(string); ok {
		if _, err := t.clock.ParseISO(due); err != nil {
			return "", kerrors.Validation("due %q is not an ISO-8601 date or date-time", due)
		}
	}
	if len(patch) == 0 {
		return "", kerrors.Validation("task_update: patch is empty")
	}

	e, err := t.api.UpdateEntity(ctx, id, patch)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"id": e.ID, "status": e.Status()})
}

// --- task_list ---

type taskListTool struct {
	api *hostapi.API
}

func (t *taskListTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "task_list",
			Description: "List tasks, optionally filtered by status.",
			Parameters: objectSchema(nil, map[string]any{
				"status": map[string]any{"type": "string", "enum": taskStatuses},
				"limit":  map[string]any{"type": "integer", "minimum": 1, "maximum": 200},
			}),
		},
	}
}

func (t *taskListTool) RequiredCapabilities() []string { return []string{"read"} }
func (t *taskListTool) Destructive() bool              { return false }

func (t *taskListTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	status, _ := args["status"].(string)
	limit := 50
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	type item struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
	}
	var items []item
	for e, err := range t.api.ListEntities(vault.TypeTask) {
		if err != nil {
			return "", err
		}
		if status != "" && e.Status() != status {
			continue
		}
		items = append(items, item{ID: e.ID, Title: e.Title(), Status: e.Status()})
		if len(items) >= limit {
			break
		}
	}
	return jsonResult(map[string]any{"tasks": items, "count": len(items)})
}

// --- task_delete ---

type taskDeleteTool struct {
	api *hostapi.API
}

func (t *taskDeleteTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "task_delete",
			Description: "Permanently delete a task from the vault.",
			Parameters: objectSchema([]string{"id"}, map[string]any{
				"id": nonEmptyString(),
			}),
		},
	}
}

func (t *taskDeleteTool) RequiredCapabilities() []string { return []string{"delete"} }
func (t *taskDeleteTool) Destructive() bool              { return true }

func (t *taskDeleteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	id, _ := args["id"].(string)
	if err := t.api.DeleteEntity(ctx, id); err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"id": id, "deleted": true})
}

// --- note_create ---

type noteCreateTool struct {
	api *hostapi.API
}

func (t *noteCreateTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "note_create",
			Description: "Create a note in the vault.",
			Parameters: objectSchema([]string{"title"}, map[string]any{
				"title":   nonEmptyString(),
				"tags":    tagList(),
				"content": map[string]any{"type": "string"},
			}),
		},
	}
}

func (t *noteCreateTool) RequiredCapabilities() []string { return []string{"create"} }
func (t *noteCreateTool) Destructive() bool              { return false }

func (t *noteCreateTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	data := map[string]any{"title": args["title"]}
	if v, ok := args["tags"]; ok {
		data["tags"] = v
	}
	content, _ := args["content"].(string)

	e, err := t.api.CreateEntity(ctx, vault.TypeNote, data, content)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"id": e.ID})
}

// --- entity_search ---

type entitySearchTool struct {
	api *hostapi.API
}

func (t *entitySearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "entity_search",
			Description: "Search vault entities by lexical token overlap against title and content.",
			Parameters: objectSchema([]string{"query"}, map[string]any{
				"query": nonEmptyString(),
				"type": map[string]any{
					"type": "string",
					"enum": []any{"task", "note", "event", "rollup", "inbox_item"},
				},
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			}),
		},
	}
}

func (t *entitySearchTool) RequiredCapabilities() []string { return []string{"read"} }
func (t *entitySearchTool) Destructive() bool              { return false }

func (t *entitySearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	entityType, _ := args["type"].(string)
	limit := 10
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return jsonResult(map[string]any{"results": []any{}})
	}

	type hit struct {
		ID    string  `json:"id"`
		Title string  `json:"title"`
		Score float64 `json:"score"`
		order int
	}
	var hits []hit
	order := 0
	for e, err := range t.api.ListEntities(vault.Type(entityType)) {
		if err != nil {
			return "", err
		}
		score := overlapScore(queryTokens, tokenize(e.Title()+" "+e.Content))
		if score > 0 {
			hits = append(hits, hit{ID: e.ID, Title: e.Title(), Score: score, order: order})
		}
		order++
	}
	// Stable rank: score descending, insertion order on ties.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].order < hits[j].order
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return jsonResult(map[string]any{"results": hits, "count": len(hits)})
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			tokens[f] = true
		}
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the document.
func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for tok := range query {
		if doc[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

// --- vault_export ---

type vaultExportTool struct {
	export func(ctx context.Context) (string, error)
}

func (t *vaultExportTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "vault_export",
			Description: "Export the whole vault as a backup archive. Returns the archive path.",
			Parameters:  objectSchema(nil, map[string]any{}),
		},
	}
}

func (t *vaultExportTool) RequiredCapabilities() []string { return []string{"export"} }
func (t *vaultExportTool) Destructive() bool              { return true }

func (t *vaultExportTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.export(ctx)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"archive": path})
}
