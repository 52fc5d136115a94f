package maintenance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

func writeVaultFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"tasks/task-20250301-0930-x.md": "---\nid: task-20250301-0930-x\n---\nbody\n",
		"notes/note-20250301-0930-y.md": "---\nid: note-20250301-0930-y\n---\nidea\n",
		".kira/rag.json":                "[]",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	return dir
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "tar"
		if compress {
			name = "tar.gz"
		}
		t.Run(name, func(t *testing.T) {
			vaultDir := writeVaultFixture(t)
			backupDir := t.TempDir()

			archive, err := Backup(vaultDir, backupDir, compress)
			if err != nil {
				t.Fatalf("Backup: %v", err)
			}
			if compress && !strings.HasSuffix(archive, ".tar.gz") {
				t.Errorf("archive name = %s, want .tar.gz suffix", archive)
			}
			if !strings.HasPrefix(filepath.Base(archive), "vault-backup-") {
				t.Errorf("archive name = %s", archive)
			}

			target := t.TempDir()
			if err := Restore(archive, target, false); err != nil {
				t.Fatalf("Restore: %v", err)
			}

			for _, rel := range []string{
				"tasks/task-20250301-0930-x.md",
				"notes/note-20250301-0930-y.md",
				".kira/rag.json",
			} {
				want, err := os.ReadFile(filepath.Join(vaultDir, rel))
				if err != nil {
					t.Fatalf("read original %s: %v", rel, err)
				}
				got, err := os.ReadFile(filepath.Join(target, rel))
				if err != nil {
					t.Fatalf("read restored %s: %v", rel, err)
				}
				if string(got) != string(want) {
					t.Errorf("%s changed through backup/restore", rel)
				}
			}
		})
	}
}

func TestRestoreRefusesNonEmptyTarget(t *testing.T) {
	vaultDir := writeVaultFixture(t)
	archive, err := Backup(vaultDir, t.TempDir(), false)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	target := t.TempDir()
	if err := os.WriteFile(filepath.Join(target, "existing.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err = Restore(archive, target, false)
	if kerrors.KindOf(err) != kerrors.KindValidation {
		t.Fatalf("Restore into non-empty target kind = %v, want validation", kerrors.KindOf(err))
	}

	// force overrides the refusal.
	if err := Restore(archive, target, true); err != nil {
		t.Fatalf("forced Restore: %v", err)
	}
}

func TestRestoreMissingArchive(t *testing.T) {
	err := Restore(filepath.Join(t.TempDir(), "nope.tar"), t.TempDir(), false)
	if kerrors.KindOf(err) != kerrors.KindNotFound {
		t.Errorf("missing archive kind = %v, want not_found", kerrors.KindOf(err))
	}
}

func TestCleanupOldBackups(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"vault-backup-20250101-000000.tar",
		"vault-backup-20250201-000000.tar",
		"vault-backup-20250301-000000.tar",
		"unrelated.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	removed, err := CleanupOldBackups(dir, 2)
	if err != nil {
		t.Fatalf("CleanupOldBackups: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "vault-backup-20250101-000000.tar")); !os.IsNotExist(err) {
		t.Errorf("oldest archive survived")
	}
	if _, err := os.Stat(filepath.Join(dir, "vault-backup-20250301-000000.tar")); err != nil {
		t.Errorf("newest archive deleted")
	}
	if _, err := os.Stat(filepath.Join(dir, "unrelated.txt")); err != nil {
		t.Errorf("non-backup file deleted")
	}

	// Nothing more to delete on the second pass.
	removed, err = CleanupOldBackups(dir, 2)
	if err != nil || removed != 0 {
		t.Errorf("second pass removed %d (%v), want 0", removed, err)
	}
}

func TestCleanupOldBackupsMissingDir(t *testing.T) {
	removed, err := CleanupOldBackups(filepath.Join(t.TempDir(), "absent"), 3)
	if err != nil || removed != 0 {
		t.Errorf("missing dir: removed %d, err %v", removed, err)
	}
}
