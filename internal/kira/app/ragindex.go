package app

import (
	"context"
	"strings"

	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/memory"
	"github.com/kirahq/kira/internal/kira/observability"
)

// subscribeRAGIndex feeds the retrieval store: every created or updated
// entity is appended as a document so later agent runs can plan against
// it. The store is append-only; an update appends a fresh snapshot rather
// than rewriting the old one.
func (a *App) subscribeRAGIndex() {
	for _, event := range []string{
		bus.EventTaskCreated,
		bus.EventTaskUpdated,
		bus.EventEntityCreated,
		bus.EventEntityUpdated,
	} {
		a.Bus.Subscribe(event, a.indexEntity)
	}
}

func (a *App) indexEntity(ctx context.Context, payload bus.Payload) error {
	entityID, _ := payload["entity_id"].(string)
	if entityID == "" {
		return nil
	}
	meta, _ := payload["metadata"].(map[string]any)
	title, _ := meta["title"].(string)
	content, _ := payload["content"].(string)

	doc := memory.Document{
		ID:      entityID,
		Content: strings.TrimSpace(title + "\n" + content),
		Metadata: map[string]any{
			"type": payload["type"],
		},
	}
	if doc.Content == "" {
		return nil
	}
	if err := a.RAG.Add(doc); err != nil {
		observability.WithTrace(ctx).Warn("rag: index failed",
			"entity_id", entityID, "err", err)
	}
	return nil
}
