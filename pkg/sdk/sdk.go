// Package sdk is the only package a Kira plugin may import besides the
// standard library allowlist. It defines the context handed to a plugin's
// entry function and the narrow host surfaces reachable through it.
//
// Everything here is an interface: the host wires concrete implementations
// at activation time, scoped to the plugin's manifest permissions. A plugin
// that requests no "kv" permission receives a Context whose KV() returns
// nil, and so on.
package sdk

import (
	"context"
	"log/slog"
	"time"
)

// Payload is the event envelope exchanged over the bus. Subscribers must
// treat it as read-only.
type Payload = map[string]any

// Handler processes one event.
type Handler func(ctx context.Context, payload Payload) error

// Bus is the plugin's handle on the event bus.
type Bus interface {
	// Publish dispatches payload to every subscriber of name and returns
	// the number of handlers that failed.
	Publish(ctx context.Context, name string, payload Payload) int
	// Subscribe registers handler for the exact event name and returns an
	// unsubscribe token.
	Subscribe(name string, handler Handler) int
	// Unsubscribe removes the subscription identified by token.
	Unsubscribe(token int) bool
}

// Scheduler lets a plugin defer and repeat work.
type Scheduler interface {
	// Once runs fn a single time after delay and returns the job ID.
	Once(delay time.Duration, fn func(ctx context.Context)) string
	// Periodic runs fn every interval until cancelled and returns the job ID.
	Periodic(interval time.Duration, fn func(ctx context.Context)) string
	// Cancel removes the job's future runs.
	Cancel(id string) bool
}

// KV is the plugin's private key-value store. Keys are namespaced per
// plugin; one plugin can never see another's data.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Secrets resolves named secrets the host operator granted to the plugin.
type Secrets interface {
	// Get returns the secret value, or ok=false when the name is unknown
	// or not granted.
	Get(name string) (value string, ok bool)
}

// Entity is the plugin-visible view of a vault entity.
type Entity struct {
	ID        string
	Type      string
	Metadata  map[string]any
	Content   string
	CreatedTS time.Time
	UpdatedTS time.Time
}

// Vault is the facade over the Host API. All mutations are validated,
// FSM-guarded, and event-publishing exactly as if the host made them.
type Vault interface {
	Create(ctx context.Context, entityType string, data map[string]any, content string) (*Entity, error)
	Read(ctx context.Context, id string) (*Entity, error)
	Update(ctx context.Context, id string, patch map[string]any) (*Entity, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, entityType string) ([]*Entity, error)
}

// Dedupe checks and records event fingerprints so a plugin can ignore
// payloads it already processed.
type Dedupe interface {
	// Seen reports whether the fingerprint was recorded before, and records
	// it when it was not.
	Seen(ctx context.Context, source, externalID string, payload map[string]any) (bool, error)
}

// Context is the activation argument. It carries only the surfaces the
// manifest permissions grant; the rest are nil.
type Context interface {
	// PluginName returns the manifest name of the running plugin.
	PluginName() string
	Logger() *slog.Logger
	Bus() Bus
	Scheduler() Scheduler
	KV() KV
	Secrets() Secrets
	Vault() Vault
	Dedupe() Dedupe
}

// Result is the value an entry function must return on success.
type Result struct {
	Status string `json:"status"` // must be "ok"
	Plugin string `json:"plugin"` // must equal the manifest name
}

// OK builds the expected success result for the named plugin.
func OK(plugin string) Result {
	return Result{Status: "ok", Plugin: plugin}
}

// EntryFunc is the signature of a plugin entry point.
type EntryFunc func(ctx context.Context, pctx Context) (Result, error)
