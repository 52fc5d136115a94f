// Package plugin implements the plugin host: manifest validation, the
// static import allowlist, activation, and the permission-scoped context
// handed to each plugin.
//
// A plugin is a directory holding a kira-plugin.json manifest and a Go
// source tree. Entry functions are compiled in and resolved through an
// explicit registry (see registry.go); the static scan still vets the
// shipped source so a manifest cannot smuggle in code the host would
// refuse to register.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kirahq/kira/common/spec/manifest"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/dedupe"
	"github.com/kirahq/kira/internal/kira/hostapi"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/scheduler"
	"github.com/kirahq/kira/pkg/sdk"
)

// Host loads and activates plugins.
type Host struct {
	bus       *bus.Bus
	scheduler *scheduler.Scheduler
	api       *hostapi.API
	kv        *KVStore
	dedupe    *dedupe.Store
	secrets   map[string]map[string]string // plugin name -> granted secrets
	logger    *slog.Logger

	mu     sync.Mutex
	loaded map[string]*Loaded
}

// Loaded describes one successfully activated plugin.
type Loaded struct {
	Manifest *manifest.Manifest
	Dir      string
}

// HostDeps carries everything a Host needs.
type HostDeps struct {
	Bus       *bus.Bus
	Scheduler *scheduler.Scheduler
	API       *hostapi.API
	KV        *KVStore
	Dedupe    *dedupe.Store
	Secrets   map[string]map[string]string
	Logger    *slog.Logger
}

// NewHost wires a plugin host.
func NewHost(deps HostDeps) *Host {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		bus:       deps.Bus,
		scheduler: deps.Scheduler,
		api:       deps.API,
		kv:        deps.KV,
		dedupe:    deps.Dedupe,
		secrets:   deps.Secrets,
		logger:    logger,
		loaded:    make(map[string]*Loaded),
	}
}

// Load validates, scans, and activates the plugin at dir. The returned
// error carries the reason the plugin was rejected; a loaded plugin stays
// active until the host shuts down.
func (h *Host) Load(ctx context.Context, dir string) (*Loaded, error) {
	m, err := manifest.Load(filepath.Join(dir, manifest.Filename))
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if _, dup := h.loaded[m.Name]; dup {
		h.mu.Unlock()
		return nil, kerrors.Validation("plugin %s is already loaded", m.Name)
	}
	h.mu.Unlock()

	if err := CheckDir(dir); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", m.Name, err)
	}

	entry, ok := lookupEntry(m.Entry)
	if !ok {
		return nil, kerrors.NotFound("plugin %s: entry %q is not registered", m.Name, m.Entry)
	}

	pctx := h.buildContext(m)
	result, err := entry(ctx, pctx)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: activation failed: %w", m.Name, err)
	}
	if result.Status != "ok" || result.Plugin != m.Name {
		return nil, kerrors.Validation(
			"plugin %s: entry returned {status:%q, plugin:%q}, want {status:\"ok\", plugin:%q}",
			m.Name, result.Status, result.Plugin, m.Name)
	}

	loaded := &Loaded{Manifest: m, Dir: dir}
	h.mu.Lock()
	h.loaded[m.Name] = loaded
	h.mu.Unlock()

	h.logger.Info("plugin activated",
		"plugin", m.Name, "version", m.Version, "entry", m.Entry)
	return loaded, nil
}

// LoadAll activates every plugin directory directly under root, in name
// order. It returns the plugins that loaded; per-plugin failures are
// logged and counted, not fatal.
func (h *Host) LoadAll(ctx context.Context, root string) ([]*Loaded, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin root: %w", err)
	}

	var dirs []string
	for _, d := range dirents {
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") && !strings.HasPrefix(d.Name(), "_") {
			dirs = append(dirs, d.Name())
		}
	}
	sort.Strings(dirs)

	var all []*Loaded
	for _, name := range dirs {
		loaded, err := h.Load(ctx, filepath.Join(root, name))
		if err != nil {
			h.logger.Error("plugin rejected", "dir", name, "err", err)
			continue
		}
		all = append(all, loaded)
	}
	return all, nil
}

// LoadedPlugins returns the activated plugins sorted by name.
func (h *Host) LoadedPlugins() []*Loaded {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Loaded, 0, len(h.loaded))
	for _, l := range h.loaded {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Manifest.Name < out[j].Manifest.Name
	})
	return out
}

// buildContext assembles the permission-scoped sdk.Context for a manifest.
func (h *Host) buildContext(m *manifest.Manifest) sdk.Context {
	c := &pluginContext{
		name:   m.Name,
		logger: h.logger.With("plugin", m.Name),
	}

	canSub := m.HasPermission(manifest.PermEventsSubscribe)
	canPub := m.HasPermission(manifest.PermEventsPublish)
	if canSub || canPub {
		c.bus = &busFacade{inner: h.bus, canSubscribe: canSub, canPublish: canPub}
	}
	if m.HasPermission(manifest.PermScheduler) {
		c.scheduler = &schedulerFacade{inner: h.scheduler}
	}
	if m.HasPermission(manifest.PermKV) {
		c.kv = h.kv.ForPlugin(m.Name)
	}
	if m.HasPermission(manifest.PermSecrets) {
		c.secrets = &staticSecrets{values: h.secrets[m.Name]}
	}

	canRead := m.HasPermission(manifest.PermVaultRead)
	canWrite := m.HasPermission(manifest.PermVaultWrite)
	if canRead || canWrite {
		c.vault = &vaultFacade{api: h.api, canRead: canRead, canWrite: canWrite}
		c.dedupe = &dedupeFacade{store: h.dedupe}
	}
	return c
}

func permissionError(perm string) error {
	return kerrors.Policy("plugin lacks the %q permission", perm)
}
