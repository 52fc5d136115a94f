package app

import (
	"context"

	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/observability"
	"github.com/kirahq/kira/plugins/capture"
)

// subscribeClarifications turns capture escalations into durable
// clarification items.
func (a *App) subscribeClarifications() {
	a.Bus.Subscribe(capture.EventClarificationNeeded, func(ctx context.Context, payload bus.Payload) error {
		sourceEvent, _ := payload["source_event"].(map[string]any)
		sourceEventID, _ := sourceEvent["external_id"].(string)

		item, err := a.Clarify.Add(sourceEventID, "", map[string]any{
			"reason": payload["reason"],
			"raw":    payload["raw"],
		}, 0, nil)
		if err != nil {
			return err
		}
		observability.WithTrace(ctx).Info("clarification recorded",
			"clarification_id", item.ClarificationID, "source_event_id", sourceEventID)
		return nil
	})
}
