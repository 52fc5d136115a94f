package policy

import (
	"testing"

	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/kerrors"
)

func newDefaultEnforcer() *Enforcer {
	e := New(config.PolicyConfig{})
	e.RegisterTool("task_create", ToolPolicy{RequiredCaps: []string{CapCreate}})
	e.RegisterTool("task_list", ToolPolicy{RequiredCaps: []string{CapRead}})
	e.RegisterTool("task_delete", ToolPolicy{RequiredCaps: []string{CapDelete}, Destructive: true})
	e.RegisterTool("vault_export", ToolPolicy{RequiredCaps: []string{CapExport}, Destructive: true})
	return e
}

func TestDefaultCapabilitiesExcludeDelete(t *testing.T) {
	e := newDefaultEnforcer()
	caps := e.Capabilities()
	want := []string{"create", "export", "read", "update"}
	if len(caps) != len(want) {
		t.Fatalf("Capabilities = %v, want %v", caps, want)
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Fatalf("Capabilities = %v, want %v", caps, want)
		}
	}
}

func TestCheckAllowsGrantedTool(t *testing.T) {
	e := newDefaultEnforcer()
	if v := e.Check("task_create", nil, false); v != nil {
		t.Errorf("task_create rejected: %v", v)
	}
	if v := e.Check("task_list", nil, false); v != nil {
		t.Errorf("task_list rejected: %v", v)
	}
}

func TestCheckUnknownTool(t *testing.T) {
	e := newDefaultEnforcer()
	v := e.Check("rm_rf", nil, true)
	if v == nil {
		t.Fatalf("unknown tool accepted")
	}
	if kerrors.KindOf(v.Err()) != kerrors.KindPolicy {
		t.Errorf("violation kind = %v, want policy", kerrors.KindOf(v.Err()))
	}
}

func TestCheckMissingCapability(t *testing.T) {
	// delete is not in the default capability set, even with confirmation.
	e := newDefaultEnforcer()
	v := e.Check("task_delete", nil, true)
	if v == nil {
		t.Fatalf("task_delete ran without the delete capability")
	}
}

func TestCheckDestructiveNeedsConfirmation(t *testing.T) {
	e := New(config.PolicyConfig{
		AllowedCapabilities: []string{CapRead, CapDelete, CapExport},
	})
	e.RegisterTool("task_delete", ToolPolicy{RequiredCaps: []string{CapDelete}, Destructive: true})

	if v := e.Check("task_delete", nil, false); v == nil {
		t.Errorf("destructive tool ran without confirmation")
	}
	if v := e.Check("task_delete", nil, true); v != nil {
		t.Errorf("confirmed destructive call rejected: %v", v)
	}
}

func TestCheckConfirmationList(t *testing.T) {
	e := New(config.PolicyConfig{
		RequireConfirmation: []string{"task_update"},
	})
	e.RegisterTool("task_update", ToolPolicy{RequiredCaps: []string{CapUpdate}})

	if v := e.Check("task_update", nil, false); v == nil {
		t.Errorf("confirm-listed tool ran without confirmation")
	}
	if v := e.Check("task_update", nil, true); v != nil {
		t.Errorf("confirmed call rejected: %v", v)
	}
}

func TestCheckToolAllowlist(t *testing.T) {
	e := New(config.PolicyConfig{
		AllowedTools: []string{"task_list"},
	})
	e.RegisterTool("task_list", ToolPolicy{RequiredCaps: []string{CapRead}})
	e.RegisterTool("task_create", ToolPolicy{RequiredCaps: []string{CapCreate}})

	if v := e.Check("task_list", nil, false); v != nil {
		t.Errorf("allowlisted tool rejected: %v", v)
	}
	if v := e.Check("task_create", nil, false); v == nil {
		t.Errorf("tool outside the allowlist accepted")
	}
}

func TestNilViolationErr(t *testing.T) {
	var v *Violation
	if v.Err() != nil {
		t.Errorf("nil violation produced an error")
	}
}
