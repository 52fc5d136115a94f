// Package capture normalizes inbound events into vault entities. It
// subscribes to message.received and file.dropped, skips payloads whose
// fingerprint was already processed, and creates an entity with the first
// text line as title and the source as a tag. Messages become tasks (the
// point of sending Kira a message is to get something tracked); dropped
// files become notes. Payloads with no usable text are escalated as
// clarification events instead of being guessed at.
package capture

import (
	"context"
	"strings"

	"github.com/kirahq/kira/pkg/sdk"
)

// Name is the manifest name of this plugin.
const Name = "kira-capture"

// EventClarificationNeeded is published when a payload cannot be
// normalized; the host turns it into a clarification item.
const EventClarificationNeeded = "capture.clarification_needed"

// Activate is the plugin entry point.
func Activate(_ context.Context, pctx sdk.Context) (sdk.Result, error) {
	p := &capturePlugin{ctx: pctx}
	pctx.Bus().Subscribe("message.received", p.handle)
	pctx.Bus().Subscribe("file.dropped", p.handle)
	pctx.Logger().Info("capture: subscribed", "events", "message.received, file.dropped")
	return sdk.OK(Name), nil
}

type capturePlugin struct {
	ctx sdk.Context
}

// handle normalizes one inbound payload into an entity.
func (p *capturePlugin) handle(ctx context.Context, payload sdk.Payload) error {
	source, _ := payload["source"].(string)
	externalID, _ := payload["external_id"].(string)
	text, _ := payload["text"].(string)

	seen, err := p.ctx.Dedupe().Seen(ctx, source, externalID, payload)
	if err != nil {
		return err
	}
	if seen {
		p.ctx.Logger().Debug("capture: duplicate skipped",
			"source", source, "external_id", externalID)
		return nil
	}

	title, body := splitTitle(text)
	if title == "" {
		p.ctx.Bus().Publish(ctx, EventClarificationNeeded, sdk.Payload{
			"source_event": map[string]any{"source": source, "external_id": externalID},
			"reason":       "payload has no usable text",
			"raw":          text,
		})
		return nil
	}

	entityType := "task"
	if source == "file" {
		entityType = "note"
	}

	tags := []any{}
	if source != "" {
		tags = append(tags, source)
	}
	entity, err := p.ctx.Vault().Create(ctx, entityType, map[string]any{
		"title": title,
		"tags":  tags,
	}, body)
	if err != nil {
		return err
	}
	p.ctx.Logger().Info("capture: entity created",
		"id", entity.ID, "type", entityType, "source", source)
	return nil
}

// splitTitle returns the first non-empty line and the remaining text.
func splitTitle(text string) (title, body string) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			return line, strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
	}
	return "", ""
}
