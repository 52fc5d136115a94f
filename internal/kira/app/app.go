// Package app is the composition root: it wires the vault, the Host API,
// the bus, pipelines, the plugin host, the agent graph, and the
// maintenance loop into one runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/internal/kira/agent"
	"github.com/kirahq/kira/internal/kira/audit"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/clarify"
	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/dedupe"
	"github.com/kirahq/kira/internal/kira/hostapi"
	"github.com/kirahq/kira/internal/kira/ledger"
	"github.com/kirahq/kira/internal/kira/llm"
	"github.com/kirahq/kira/internal/kira/maintenance"
	"github.com/kirahq/kira/internal/kira/memory"
	"github.com/kirahq/kira/internal/kira/pipeline"
	"github.com/kirahq/kira/internal/kira/plugin"
	"github.com/kirahq/kira/internal/kira/policy"
	"github.com/kirahq/kira/internal/kira/scheduler"
	"github.com/kirahq/kira/internal/kira/tools"
	"github.com/kirahq/kira/internal/kira/vault"
	"github.com/kirahq/kira/plugins/capture"
)

// DefaultPluginRoot is where bundled and installed plugins live.
const DefaultPluginRoot = "plugins"

// maxConversationExchanges bounds the per-trace conversation memory.
const maxConversationExchanges = 10

// Options tune app construction beyond the config file.
type Options struct {
	// PluginRoot overrides the plugin directory. Empty means
	// DefaultPluginRoot.
	PluginRoot string
	// SyncInterval overrides the sync pipeline cadence. Zero keeps the
	// pipeline default.
	SyncInterval time.Duration
	// SyncAdapters names the sync adapters to tick.
	SyncAdapters []string
}

// App owns every long-lived component.
type App struct {
	Config *config.Config
	Clock  clock.Clock

	Bus       *bus.Bus
	Store     *vault.Store
	API       *hostapi.API
	Dedupe    *dedupe.Store
	Ledger    *ledger.Ledger
	Scheduler *scheduler.Scheduler
	Audit     *audit.Logger
	Clarify   *clarify.Store

	Inbox  *pipeline.Inbox
	Sync   *pipeline.Sync
	Rollup *pipeline.Rollup

	PluginKV   *plugin.KVStore
	Plugins    *plugin.Host
	pluginRoot string

	Registry *tools.Registry
	Enforcer *policy.Enforcer
	Router   *llm.Router
	Memory   *memory.Conversation
	RAG      *memory.RAG
	Agent    *agent.Graph

	Maintenance *maintenance.Service
}

// New builds the whole application from configuration. Nothing is started;
// call Run.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ck := cfg.Clock()
	vaultPath := cfg.Vault.Path
	artifacts := filepath.Join(vaultPath, "artifacts")

	a := &App{
		Config:     cfg,
		Clock:      ck,
		Bus:        bus.New(),
		Scheduler:  scheduler.New(),
		Audit:      audit.New(filepath.Join(artifacts, "audit")),
		Memory:     memory.NewConversation(maxConversationExchanges),
		pluginRoot: opts.PluginRoot,
	}
	if a.pluginRoot == "" {
		a.pluginRoot = DefaultPluginRoot
	}

	store, err := vault.Open(vaultPath, cfg.Vault.EnableFileLocks)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	a.Store = store
	a.API = hostapi.New(store, a.Bus, ck)

	if a.Dedupe, err = dedupe.Open(filepath.Join(artifacts, "dedupe.db")); err != nil {
		return nil, err
	}
	if a.Ledger, err = ledger.Open(filepath.Join(artifacts, "sync_ledger.db")); err != nil {
		return nil, err
	}
	if a.Clarify, err = clarify.Open(filepath.Join(vaultPath, ".kira", "clarifications.json")); err != nil {
		return nil, err
	}
	if a.RAG, err = memory.OpenRAG(filepath.Join(vaultPath, ".kira", "rag.json")); err != nil {
		return nil, err
	}

	runLog := pipeline.NewRunLog(filepath.Join(artifacts, "logs", "pipeline.log"))
	a.Inbox = pipeline.NewInbox(a.Bus, runLog,
		filepath.Join(vaultPath, "inbox"),
		filepath.Join(artifacts, "quarantine"),
		pipeline.InboxConfig{})
	a.Sync = pipeline.NewSync(a.Bus, runLog, pipeline.SyncConfig{
		Adapters: opts.SyncAdapters,
		Interval: opts.SyncInterval,
	})
	a.Rollup = pipeline.NewRollup(a.API, a.Bus, runLog, ck)

	if a.PluginKV, err = plugin.OpenKV(filepath.Join(artifacts, "plugins.db")); err != nil {
		return nil, err
	}
	a.Plugins = plugin.NewHost(plugin.HostDeps{
		Bus:       a.Bus,
		Scheduler: a.Scheduler,
		API:       a.API,
		KV:        a.PluginKV,
		Dedupe:    a.Dedupe,
		Logger:    slog.Default(),
	})

	a.Router = llm.NewRouterFromConfig(cfg.Router)
	a.Registry = tools.NewRegistry()
	tools.RegisterBuiltins(a.Registry, a.API, ck, func(ctx context.Context) (string, error) {
		return maintenance.Backup(vaultPath, cfg.Backup.BackupDir, cfg.Backup.Compress)
	})
	a.Enforcer = policy.New(cfg.Policy)
	for _, def := range a.Registry.Definitions() {
		t := a.Registry.Get(def.Function.Name)
		a.Enforcer.RegisterTool(def.Function.Name, policy.ToolPolicy{
			RequiredCaps: t.RequiredCapabilities(),
			Destructive:  t.Destructive(),
		})
	}
	a.Agent = agent.NewGraph(a.Router, a.Registry, a.Enforcer, a.Memory,
		a.RAG, a.Audit, ck, cfg.Agent, cfg.Policy)

	a.Maintenance = maintenance.NewService(cfg.Cleanup, a.Dedupe,
		filepath.Join(artifacts, "quarantine"),
		filepath.Join(artifacts, "logs"))

	a.subscribeTimebox()
	a.subscribeClarifications()
	a.subscribeRAGIndex()

	return a, nil
}

// RegisterBundledPlugins binds the entry functions of the plugins shipped
// with the binary. Call once before Run or LoadPlugins.
func RegisterBundledPlugins() {
	plugin.RegisterEntry("capture:Activate", capture.Activate)
}

// LoadPlugins activates every plugin under the plugin root.
func (a *App) LoadPlugins(ctx context.Context) error {
	loaded, err := a.Plugins.LoadAll(ctx, a.pluginRoot)
	if err != nil {
		return err
	}
	for _, l := range loaded {
		slog.Info("plugin loaded", "name", l.Manifest.Name, "version", l.Manifest.Version)
	}
	return nil
}

// Run starts the background services and blocks until the context is
// cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.LoadPlugins(ctx); err != nil {
		return err
	}

	a.Maintenance.Start(ctx)
	defer a.Maintenance.Stop()

	if len(a.Config.Router.Providers) == 0 {
		slog.Warn("no llm providers configured; agent runs will fail at the plan node")
	}

	// Inbox scan every minute; sync on its own cadence.
	a.Scheduler.Periodic(time.Minute, func(ctx context.Context) {
		if _, err := a.Inbox.RunScan(ctx); err != nil {
			slog.Error("inbox scan failed", "err", err)
		}
	})
	a.Sync.Schedule(a.Scheduler)

	slog.Info("kira is running; press Ctrl+C to stop", "vault", a.Config.Vault.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}
	return nil
}

// Close stops the scheduler and releases every store.
func (a *App) Close() error {
	a.Scheduler.Stop()
	var firstErr error
	for _, c := range []func() error{
		a.PluginKV.Close,
		a.Dedupe.Close,
		a.Ledger.Close,
		a.Audit.Close,
	} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PluginRoot returns the active plugin directory.
func (a *App) PluginRoot() string { return a.pluginRoot }
