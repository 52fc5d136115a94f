// Package doctor runs the self-diagnosis checks behind the doctor
// command: is the vault writable, does the timezone resolve, do the
// databases open, are the bundled plugins valid, is an LLM provider
// configured.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/common/spec/manifest"
	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/dedupe"
	"github.com/kirahq/kira/internal/kira/ledger"
	"github.com/kirahq/kira/internal/kira/llm"
	"github.com/kirahq/kira/internal/kira/plugin"
)

// Check is one diagnosis result.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report aggregates all checks.
type Report struct {
	Checks  []Check `json:"checks"`
	Healthy bool    `json:"healthy"`
}

// Run executes every check against the configuration. It never returns an
// error: failures land in the report.
func Run(ctx context.Context, cfg *config.Config, pluginRoot string) *Report {
	r := &Report{Healthy: true}
	r.add(checkVaultWritable(cfg.Vault.Path))
	r.add(checkTimezone(cfg.Vault.TZ))
	r.add(checkDedupeDB(ctx, cfg.Vault.Path))
	r.add(checkLedgerDB(cfg.Vault.Path))
	r.add(checkAuditDir(cfg.Vault.Path))
	r.add(checkPlugins(pluginRoot)...)
	r.add(checkProviders(cfg.Router))
	return r
}

func (r *Report) add(checks ...Check) {
	for _, c := range checks {
		r.Checks = append(r.Checks, c)
		if !c.OK {
			r.Healthy = false
		}
	}
}

func checkVaultWritable(vaultPath string) Check {
	c := Check{Name: "vault writable"}
	if err := os.MkdirAll(vaultPath, 0o755); err != nil {
		c.Detail = err.Error()
		return c
	}
	probe := filepath.Join(vaultPath, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		c.Detail = err.Error()
		return c
	}
	os.Remove(probe)
	c.OK = true
	c.Detail = vaultPath
	return c
}

func checkTimezone(tz string) Check {
	c := Check{Name: "timezone"}
	ck, resolved := clock.New(tz)
	c.OK = true
	if resolved {
		c.Detail = tz
	} else {
		c.Detail = fmt.Sprintf("%q did not resolve, using %s", tz, ck.Location())
	}
	return c
}

func checkDedupeDB(ctx context.Context, vaultPath string) Check {
	c := Check{Name: "dedupe database"}
	store, err := dedupe.Open(filepath.Join(vaultPath, "artifacts", "dedupe.db"))
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	defer store.Close()
	n, err := store.Count(ctx)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	c.OK = true
	c.Detail = fmt.Sprintf("%d fingerprints", n)
	return c
}

func checkLedgerDB(vaultPath string) Check {
	c := Check{Name: "sync ledger database"}
	l, err := ledger.Open(filepath.Join(vaultPath, "artifacts", "sync_ledger.db"))
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	l.Close()
	c.OK = true
	return c
}

func checkAuditDir(vaultPath string) Check {
	c := Check{Name: "audit directory"}
	dir := filepath.Join(vaultPath, "artifacts", "audit")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.Detail = err.Error()
		return c
	}
	c.OK = true
	c.Detail = dir
	return c
}

// checkPlugins validates the manifest and source of every plugin directory
// without activating anything.
func checkPlugins(root string) []Check {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Check{{Name: "plugins", OK: true, Detail: "no plugin directory"}}
		}
		return []Check{{Name: "plugins", Detail: err.Error()}}
	}

	var checks []Check
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		c := Check{Name: "plugin " + e.Name()}
		m, err := manifest.Load(filepath.Join(dir, manifest.Filename))
		if err != nil {
			c.Detail = err.Error()
			checks = append(checks, c)
			continue
		}
		if err := plugin.CheckDir(dir); err != nil {
			c.Detail = err.Error()
			checks = append(checks, c)
			continue
		}
		c.OK = true
		c.Detail = m.Name + " " + m.Version
		checks = append(checks, c)
	}
	if len(checks) == 0 {
		checks = append(checks, Check{Name: "plugins", OK: true, Detail: "none installed"})
	}
	return checks
}

func checkProviders(cfg config.RouterConfig) Check {
	c := Check{Name: "llm providers"}
	if len(cfg.Providers) == 0 {
		c.Detail = "no providers configured"
		return c
	}
	router := llm.NewRouterFromConfig(cfg)
	if !router.HasProvider(llm.TaskDefault) {
		c.Detail = "default task type resolves to no provider"
		return c
	}
	c.OK = true
	c.Detail = fmt.Sprintf("%d configured", len(cfg.Providers))
	return c
}
