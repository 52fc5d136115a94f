package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirahq/kira/common/spec/manifest"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/dedupe"
	"github.com/kirahq/kira/internal/kira/hostapi"
	"github.com/kirahq/kira/internal/kira/scheduler"
	"github.com/kirahq/kira/internal/kira/vault"
	"github.com/kirahq/kira/pkg/sdk"
)

// pluginContext implements sdk.Context. Each accessor returns nil when the
// manifest did not request the matching permission, so an over-reaching
// plugin fails with a nil dereference in its own frame instead of touching
// the host.
type pluginContext struct {
	name      string
	logger    *slog.Logger
	bus       sdk.Bus
	scheduler sdk.Scheduler
	kv        sdk.KV
	secrets   sdk.Secrets
	vault     sdk.Vault
	dedupe    sdk.Dedupe
}

func (c *pluginContext) PluginName() string       { return c.name }
func (c *pluginContext) Logger() *slog.Logger     { return c.logger }
func (c *pluginContext) Bus() sdk.Bus             { return c.bus }
func (c *pluginContext) Scheduler() sdk.Scheduler { return c.scheduler }
func (c *pluginContext) KV() sdk.KV               { return c.kv }
func (c *pluginContext) Secrets() sdk.Secrets     { return c.secrets }
func (c *pluginContext) Vault() sdk.Vault         { return c.vault }
func (c *pluginContext) Dedupe() sdk.Dedupe       { return c.dedupe }

// busFacade adapts the host bus to the SDK interface, filtering by the
// manifest's subscribe/publish permissions.
type busFacade struct {
	inner        *bus.Bus
	canSubscribe bool
	canPublish   bool
}

func (f *busFacade) Publish(ctx context.Context, name string, payload sdk.Payload) int {
	if !f.canPublish {
		return 0
	}
	return f.inner.Publish(ctx, name, bus.Payload(payload))
}

func (f *busFacade) Subscribe(name string, handler sdk.Handler) int {
	if !f.canSubscribe {
		return 0
	}
	return f.inner.Subscribe(name, func(ctx context.Context, payload bus.Payload) error {
		return handler(ctx, map[string]any(payload))
	})
}

func (f *busFacade) Unsubscribe(token int) bool {
	return f.inner.Unsubscribe(token)
}

// schedulerFacade adapts the host scheduler.
type schedulerFacade struct {
	inner *scheduler.Scheduler
}

func (f *schedulerFacade) Once(delay time.Duration, fn func(ctx context.Context)) string {
	return f.inner.Once(delay, scheduler.Job(fn))
}

func (f *schedulerFacade) Periodic(interval time.Duration, fn func(ctx context.Context)) string {
	return f.inner.Periodic(interval, scheduler.Job(fn))
}

func (f *schedulerFacade) Cancel(id string) bool {
	return f.inner.Cancel(id)
}

// staticSecrets resolves from a fixed map the operator granted to the
// plugin at load time.
type staticSecrets struct {
	values map[string]string
}

func (s *staticSecrets) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// vaultFacade exposes the Host API to a plugin, gated on the manifest's
// vault permissions. Writes without vault.write and reads without
// vault.read fail as policy violations inside the facade, never reaching
// the API.
type vaultFacade struct {
	api      *hostapi.API
	canRead  bool
	canWrite bool
}

func (f *vaultFacade) Create(ctx context.Context, entityType string, data map[string]any, content string) (*sdk.Entity, error) {
	if err := f.requireWrite(); err != nil {
		return nil, err
	}
	e, err := f.api.CreateEntity(ctx, vault.Type(entityType), data, content)
	if err != nil {
		return nil, err
	}
	return toSDKEntity(e), nil
}

func (f *vaultFacade) Read(ctx context.Context, id string) (*sdk.Entity, error) {
	if err := f.requireRead(); err != nil {
		return nil, err
	}
	e, err := f.api.ReadEntity(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}
	return toSDKEntity(e), nil
}

func (f *vaultFacade) Update(ctx context.Context, id string, patch map[string]any) (*sdk.Entity, error) {
	if err := f.requireWrite(); err != nil {
		return nil, err
	}
	e, err := f.api.UpdateEntity(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return toSDKEntity(e), nil
}

func (f *vaultFacade) Delete(ctx context.Context, id string) error {
	if err := f.requireWrite(); err != nil {
		return err
	}
	return f.api.DeleteEntity(ctx, id)
}

func (f *vaultFacade) List(ctx context.Context, entityType string) ([]*sdk.Entity, error) {
	if err := f.requireRead(); err != nil {
		return nil, err
	}
	var out []*sdk.Entity
	for e, err := range f.api.ListEntities(vault.Type(entityType)) {
		if err != nil {
			return nil, err
		}
		out = append(out, toSDKEntity(e))
	}
	return out, nil
}

func (f *vaultFacade) requireRead() error {
	if !f.canRead {
		return permissionError(manifest.PermVaultRead)
	}
	return nil
}

func (f *vaultFacade) requireWrite() error {
	if !f.canWrite {
		return permissionError(manifest.PermVaultWrite)
	}
	return nil
}

func toSDKEntity(e *vault.Entity) *sdk.Entity {
	c := e.Clone()
	return &sdk.Entity{
		ID:        c.ID,
		Type:      string(c.Type),
		Metadata:  c.Metadata,
		Content:   c.Content,
		CreatedTS: c.CreatedTS,
		UpdatedTS: c.UpdatedTS,
	}
}

// dedupeFacade exposes seen-before checks over the shared fingerprint
// store.
type dedupeFacade struct {
	store *dedupe.Store
}

func (f *dedupeFacade) Seen(ctx context.Context, source, externalID string, payload map[string]any) (bool, error) {
	id := dedupe.GenerateEventID(source, externalID, payload)
	dup, err := f.store.IsDuplicate(ctx, id)
	if err != nil {
		return false, err
	}
	if dup {
		return true, nil
	}
	return false, f.store.MarkSeen(ctx, id, source, externalID)
}
