package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

func validManifest() map[string]any {
	return map[string]any{
		"name":         "kira-capture",
		"version":      "1.0.0",
		"displayName":  "Capture",
		"description":  "Turns inbound messages into tasks and notes.",
		"publisher":    "kirahq",
		"engines":      map[string]any{"kira": ">=0.1.0"},
		"permissions":  []any{"vault.read", "vault.write", "events.subscribe"},
		"entry":        "capture:Activate",
		"capabilities": []any{"capture"},
		"contributes": map[string]any{
			"events":   []any{"message.received"},
			"commands": []any{},
		},
	}
}

func parseMap(t *testing.T, doc map[string]any) (*Manifest, error) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return Parse(data)
}

func TestParseValid(t *testing.T) {
	m, err := parseMap(t, validManifest())
	require.NoError(t, err)
	assert.Equal(t, "kira-capture", m.Name)
	assert.True(t, m.HasPermission(PermVaultWrite))
	assert.False(t, m.HasPermission(PermSecrets))

	module, function := m.EntryParts()
	assert.Equal(t, "capture", module)
	assert.Equal(t, "Activate", function)
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(doc map[string]any)
	}{
		{"missing name", func(d map[string]any) { delete(d, "name") }},
		{"bad name prefix", func(d map[string]any) { d["name"] = "capture" }},
		{"uppercase name", func(d map[string]any) { d["name"] = "kira-Capture" }},
		{"bad version", func(d map[string]any) { d["version"] = "1.0" }},
		{"unknown permission", func(d map[string]any) {
			d["permissions"] = []any{"vault.read", "network"}
		}},
		{"bad entry shape", func(d map[string]any) { d["entry"] = "captureActivate" }},
		{"entry escapes plugin dir", func(d map[string]any) { d["entry"] = "../evil:Activate" }},
		{"underscored entry module", func(d map[string]any) { d["entry"] = "_hidden:Activate" }},
		{"empty engines.kira", func(d map[string]any) {
			d["engines"] = map[string]any{"kira": ""}
		}},
		{"missing contributes", func(d map[string]any) { delete(d, "contributes") }},
		{"extra top-level field", func(d map[string]any) { d["network"] = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := validManifest()
			tc.mutate(doc)
			_, err := parseMap(t, doc)
			require.Error(t, err)
			assert.Equal(t, kerrors.KindValidation, kerrors.KindOf(err))
		})
	}
}

func TestParseNotJSON(t *testing.T) {
	_, err := Parse([]byte("not json at all"))
	require.Error(t, err)
	assert.Equal(t, kerrors.KindValidation, kerrors.KindOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir() + "/" + Filename)
	require.Error(t, err)
	assert.Equal(t, kerrors.KindNotFound, kerrors.KindOf(err))
}
