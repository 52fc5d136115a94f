// Package manifest defines the kira-plugin.json manifest format and its
// validation.
//
// A manifest declares what a plugin is and what it may touch: its identity,
// the host engine range it supports, the closed set of permissions it
// requests, the entry point to activate, and the events and commands it
// contributes. Structural validation runs against an embedded JSON Schema;
// semantic checks (entry shape, permission set) run on top of it.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

//go:embed schema.json
var schemaJSON []byte

// Filename is the manifest file name inside a plugin directory.
const Filename = "kira-plugin.json"

// Permissions a plugin may request. Unknown names are rejected.
const (
	PermVaultRead       = "vault.read"
	PermVaultWrite      = "vault.write"
	PermEventsSubscribe = "events.subscribe"
	PermEventsPublish   = "events.publish"
	PermScheduler       = "scheduler"
	PermKV              = "kv"
	PermSecrets         = "secrets"
)

// Manifest is a parsed kira-plugin.json.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	DisplayName  string            `json:"displayName"`
	Description  string            `json:"description"`
	Publisher    string            `json:"publisher"`
	Engines      map[string]string `json:"engines"`
	Permissions  []string          `json:"permissions"`
	Entry        string            `json:"entry"`
	Capabilities []string          `json:"capabilities"`
	Contributes  Contributes       `json:"contributes"`
}

// Contributes lists the events the plugin subscribes to and the commands it
// adds.
type Contributes struct {
	Events   []string `json:"events"`
	Commands []string `json:"commands"`
}

// EntryParts splits the entry into its module and function halves.
func (m *Manifest) EntryParts() (module, function string) {
	module, function, _ = strings.Cut(m.Entry, ":")
	return module, function
}

// HasPermission reports whether the manifest requests the named permission.
func (m *Manifest) HasPermission(name string) bool {
	for _, p := range m.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

var schema = jsonschema.MustCompileString("kira-plugin.json", string(schemaJSON))

// Parse validates raw manifest bytes against the schema and semantic rules
// and returns the decoded manifest. Errors are validation errors.
func Parse(data []byte) (*Manifest, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, kerrors.Validation("manifest is not valid JSON: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, kerrors.Validation("manifest schema: %v", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, kerrors.Validation("manifest decode: %v", err)
	}
	if err := validateSemantics(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.NotFound("manifest %s not found", path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// validateSemantics covers the rules the schema cannot express cleanly.
func validateSemantics(m *Manifest) error {
	module, function := m.EntryParts()
	if module == "" || function == "" {
		return kerrors.Validation("entry %q must have the form module:function", m.Entry)
	}
	if strings.Contains(module, "..") || strings.HasPrefix(module, "/") {
		return kerrors.Validation("entry module %q must be a relative path inside the plugin", module)
	}
	if strings.HasPrefix(module, "_") {
		return kerrors.Validation("entry module %q must not be underscore-prefixed", module)
	}
	if m.Engines["kira"] == "" {
		return kerrors.Validation("engines.kira must not be empty")
	}
	return nil
}
