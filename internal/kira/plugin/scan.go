package plugin

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

// sdkImportPath is the single host package a plugin may import.
const sdkImportPath = "github.com/kirahq/kira/pkg/sdk"

// allowedStdlib is the closed set of standard library packages a plugin
// may import: pure computation only. Anything touching the OS, the
// network, subprocesses, dynamic loading, or memory safety is absent.
var allowedStdlib = map[string]bool{
	"bytes":            true,
	"cmp":              true,
	"container/heap":   true,
	"container/list":   true,
	"container/ring":   true,
	"context":          true,
	"crypto/hmac":      true,
	"crypto/sha1":      true,
	"crypto/sha256":    true,
	"crypto/sha512":    true,
	"encoding/base64":  true,
	"encoding/csv":     true,
	"encoding/hex":     true,
	"encoding/json":    true,
	"errors":           true,
	"fmt":              true,
	"hash":             true,
	"hash/crc32":       true,
	"hash/fnv":         true,
	"iter":             true,
	"log/slog":         true,
	"maps":             true,
	"math":             true,
	"math/big":         true,
	"math/bits":        true,
	"math/rand/v2":     true,
	"path":             true,
	"regexp":           true,
	"slices":           true,
	"sort":             true,
	"strconv":          true,
	"strings":          true,
	"time":             true,
	"unicode":          true,
	"unicode/utf8":     true,
	"unicode/utf16":    true,
}

// ScanViolation describes one rejected import or directive.
type ScanViolation struct {
	File   string
	Line   int
	Import string
	Reason string
}

func (v ScanViolation) String() string {
	return fmt.Sprintf("%s:%d: import %q %s", v.File, v.Line, v.Import, v.Reason)
}

// ScanDir parses every .go file under dir (including underscore-prefixed
// and blank-imported files, which the build would skip but a hostile
// manifest could still name as its entry module) and returns all allowlist
// violations. An empty slice means the source tree is clean.
func ScanDir(dir string) ([]ScanViolation, error) {
	var violations []ScanViolation
	fset := token.NewFileSet()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "testdata" || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".go") || strings.HasSuffix(d.Name(), "_test.go") {
			// Test files never ship in the plugin package, so they are
			// outside the allowlist's reach.
			return nil
		}
		vs, err := scanFile(fset, path)
		if err != nil {
			return err
		}
		violations = append(violations, vs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan plugin source: %w", err)
	}
	return violations, nil
}

// CheckDir runs ScanDir and converts violations into a policy error naming
// the first offenders.
func CheckDir(dir string) error {
	violations, err := ScanDir(dir)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	msgs := make([]string, 0, 3)
	for i, v := range violations {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(violations)-3))
			break
		}
		msgs = append(msgs, v.String())
	}
	return kerrors.Policy("plugin source rejected: %s", strings.Join(msgs, "; "))
}

func scanFile(fset *token.FileSet, path string) ([]ScanViolation, error) {
	f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly|parser.ParseComments)
	if err != nil {
		// Unparseable source cannot be vetted, so it is rejected outright.
		return []ScanViolation{{
			File:   filepath.Base(path),
			Import: "",
			Reason: fmt.Sprintf("is unparseable (%v)", err),
		}}, nil
	}

	var violations []ScanViolation
	for _, imp := range f.Imports {
		ipath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			ipath = imp.Path.Value
		}
		if reason := rejectImport(ipath); reason != "" {
			violations = append(violations, ScanViolation{
				File:   filepath.Base(path),
				Line:   fset.Position(imp.Pos()).Line,
				Import: ipath,
				Reason: reason,
			})
		}
	}
	violations = append(violations, scanDirectives(fset, f, path)...)
	return violations, nil
}

// rejectImport returns a non-empty reason when ipath is outside the
// allowlist. Aliased and blank imports resolve to the same path, so they
// are covered by the same check.
func rejectImport(ipath string) string {
	switch {
	case ipath == "C":
		return "enables cgo"
	case ipath == sdkImportPath:
		return ""
	case allowedStdlib[ipath]:
		return ""
	case strings.HasPrefix(ipath, "github.com/kirahq/kira/internal/"):
		return "reaches into the private core namespace"
	case strings.HasPrefix(ipath, "github.com/kirahq/kira/plugins/"):
		return "imports another plugin"
	case strings.HasPrefix(ipath, "github.com/kirahq/kira/"):
		return "is outside the plugin SDK"
	case strings.Contains(ipath, "/internal/") || strings.HasSuffix(ipath, "/internal"):
		return "is an internal package"
	case strings.HasPrefix(ipath, "_") || strings.Contains(ipath, "/_"):
		return "is underscore-prefixed"
	case strings.HasPrefix(ipath, "./") || strings.HasPrefix(ipath, "../"):
		return "is a relative import"
	default:
		return "is not in the allowlist"
	}
}

// scanDirectives rejects compiler directives that bypass the import
// allowlist entirely.
func scanDirectives(fset *token.FileSet, f *ast.File, path string) []ScanViolation {
	var violations []ScanViolation
	for _, group := range f.Comments {
		for _, c := range group.List {
			text := strings.TrimSpace(c.Text)
			for _, directive := range []string{"//go:linkname", "//go:cgo_"} {
				if strings.HasPrefix(text, directive) {
					violations = append(violations, ScanViolation{
						File:   filepath.Base(path),
						Line:   fset.Position(c.Pos()).Line,
						Import: directive,
						Reason: "directive bypasses the allowlist",
					})
				}
			}
		}
	}
	return violations
}
