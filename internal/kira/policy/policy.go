// Package policy implements the capability enforcer gating every tool
// call the agent graph executes.
//
// A capability is one of read, create, update, delete, export. Each tool
// declares the capabilities it needs and whether it is destructive; the
// enforcer holds the currently granted set plus a per-tool allowlist and
// checks every call before execution. Violations are terminal: they are
// never retried.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/kerrors"
)

// Capability names.
const (
	CapRead   = "read"
	CapCreate = "create"
	CapUpdate = "update"
	CapDelete = "delete"
	CapExport = "export"
)

// ToolPolicy describes what the enforcer knows about one tool.
type ToolPolicy struct {
	RequiredCaps []string
	Destructive  bool
}

// Violation explains a rejected call. It converts to a policy-kind error.
type Violation struct {
	Tool   string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy: tool %s: %s", v.Tool, v.Reason)
}

// Err returns the violation as a classified policy error, or nil.
func (v *Violation) Err() error {
	if v == nil {
		return nil
	}
	return kerrors.Policy("tool %s: %s", v.Tool, v.Reason)
}

// Enforcer evaluates tool calls against the granted capability set.
type Enforcer struct {
	available    map[string]bool
	allowedTools map[string]bool // nil means every registered tool
	needsConfirm map[string]bool
	tools        map[string]ToolPolicy
}

// New builds an Enforcer from configuration. Tool policies are registered
// afterwards with RegisterTool.
func New(cfg config.PolicyConfig) *Enforcer {
	e := &Enforcer{
		available:    make(map[string]bool),
		needsConfirm: make(map[string]bool),
		tools:        make(map[string]ToolPolicy),
	}
	caps := cfg.AllowedCapabilities
	if len(caps) == 0 {
		caps = []string{CapRead, CapCreate, CapUpdate, CapExport}
	}
	for _, c := range caps {
		e.available[c] = true
	}
	if len(cfg.AllowedTools) > 0 {
		e.allowedTools = make(map[string]bool, len(cfg.AllowedTools))
		for _, t := range cfg.AllowedTools {
			e.allowedTools[t] = true
		}
	}
	for _, t := range cfg.RequireConfirmation {
		e.needsConfirm[t] = true
	}
	return e
}

// RegisterTool records a tool's required capabilities and destructive
// flag. Unregistered tools are rejected by Check.
func (e *Enforcer) RegisterTool(name string, p ToolPolicy) {
	e.tools[name] = p
}

// Capabilities returns the granted capability set, sorted.
func (e *Enforcer) Capabilities() []string {
	out := make([]string, 0, len(e.available))
	for c := range e.available {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Check evaluates one tool call. It returns nil when the call may run, or
// a Violation naming the failing rule: unknown or disallowed tool, missing
// capabilities, or a destructive/confirm-gated call without confirmation.
func (e *Enforcer) Check(tool string, args map[string]any, confirmed bool) *Violation {
	p, known := e.tools[tool]
	if !known {
		return &Violation{Tool: tool, Reason: "not a registered tool"}
	}
	if e.allowedTools != nil && !e.allowedTools[tool] {
		return &Violation{Tool: tool, Reason: "not in the tool allowlist"}
	}

	var missing []string
	for _, c := range p.RequiredCaps {
		if !e.available[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &Violation{
			Tool:   tool,
			Reason: fmt.Sprintf("missing capability %s", strings.Join(missing, ", ")),
		}
	}

	if (p.Destructive || e.needsConfirm[tool]) && !confirmed {
		return &Violation{Tool: tool, Reason: "requires explicit confirmation"}
	}
	return nil
}
