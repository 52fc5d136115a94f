package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

func writePluginFile(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func TestScanDirCleanSource(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "main.go", `package capture

import (
	"context"
	"strings"

	"github.com/kirahq/kira/pkg/sdk"
)

func Activate(ctx context.Context, pctx sdk.Context) (sdk.Result, error) {
	_ = strings.TrimSpace
	return sdk.OK("kira-capture"), nil
}
`)
	violations, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.NoError(t, CheckDir(dir))
}

func TestScanDirRejectsImports(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"os", `package p
import "os"
var _ = os.Getenv
`},
		{"net", `package p
import "net/http"
var _ = http.Get
`},
		{"aliased os", `package p
import sneaky "os"
var _ = sneaky.Getenv
`},
		{"blank unsafe", `package p
import _ "unsafe"
`},
		{"cgo", `package p
import "C"
`},
		{"core internal", `package p
import "github.com/kirahq/kira/internal/kira/vault"
var _ = vault.TypeTask
`},
		{"cross plugin", `package p
import _ "github.com/kirahq/kira/plugins/other"
`},
		{"third party internal", `package p
import _ "github.com/somewhere/lib/internal/impl"
`},
		{"relative", "package p\nimport _ `../escape`\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writePluginFile(t, dir, "main.go", tc.src)
			violations, err := ScanDir(dir)
			require.NoError(t, err)
			require.NotEmpty(t, violations, "source was accepted")

			err = CheckDir(dir)
			require.Error(t, err)
			assert.Equal(t, kerrors.KindPolicy, kerrors.KindOf(err))
		})
	}
}

func TestScanDirRejectsDirectives(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "main.go", `package p

import _ "unsafe"

//go:linkname secret runtime.secret
func secret()
`)
	violations, err := ScanDir(dir)
	require.NoError(t, err)

	found := false
	for _, v := range violations {
		if v.Import == "//go:linkname" {
			found = true
		}
	}
	assert.True(t, found, "linkname directive not flagged: %v", violations)
}

func TestScanDirRejectsUnparseable(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "broken.go", "package p\nfunc {{{\n")
	violations, err := ScanDir(dir)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Reason, "unparseable")
}

func TestScanDirCoversUnderscoreFiles(t *testing.T) {
	// Files the build would skip are still vetted: a manifest could name
	// them as its entry module.
	dir := t.TempDir()
	writePluginFile(t, dir, "_hidden.go", `package p
import "os/exec"
var _ = exec.Command
`)
	violations, err := ScanDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, violations)
}

func TestScanDirSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "main.go", `package p
import "strings"
var _ = strings.TrimSpace
`)
	writePluginFile(t, dir, "main_test.go", `package p
import (
	"os"
	"testing"
)
func TestX(t *testing.T) { _ = os.Getenv }
`)
	violations, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestScanDirSkipsTestdata(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "main.go", `package p
import "strings"
var _ = strings.TrimSpace
`)
	writePluginFile(t, filepath.Join(dir, "testdata"), "fixture.go", `package fixture
import "os"
var _ = os.Getenv
`)
	violations, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Empty(t, violations)
}
