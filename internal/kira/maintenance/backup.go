package maintenance

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

// Backup tars the vault directory into
// <backupDir>/vault-backup-<utc stamp>.tar[.gz] and returns the archive
// path. Entity files are stored with paths relative to the vault root, so
// a restore reproduces the tree byte for byte.
func Backup(vaultDir, backupDir string, compress bool) (string, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", kerrors.IO(err, "create backup dir")
	}

	name := "vault-backup-" + time.Now().UTC().Format("20060102-150405") + ".tar"
	if compress {
		name += ".gz"
	}
	archivePath := filepath.Join(backupDir, name)

	f, err := os.Create(archivePath)
	if err != nil {
		return "", kerrors.IO(err, "create backup archive")
	}
	defer f.Close()

	var tw *tar.Writer
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(f)
		tw = tar.NewWriter(gz)
	} else {
		tw = tar.NewWriter(f)
	}

	err = filepath.WalkDir(vaultDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(vaultDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		tw.Close()
		if gz != nil {
			gz.Close()
		}
		os.Remove(archivePath)
		return "", kerrors.IO(err, "write backup archive")
	}

	if err := tw.Close(); err != nil {
		os.Remove(archivePath)
		return "", kerrors.IO(err, "finalize backup archive")
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			os.Remove(archivePath)
			return "", kerrors.IO(err, "finalize backup archive")
		}
	}
	return archivePath, nil
}

// Restore extracts the archive into targetDir. A non-empty target is
// refused unless force is set; entries escaping the target are rejected.
func Restore(archivePath, targetDir string, force bool) error {
	if !force {
		entries, err := os.ReadDir(targetDir)
		if err != nil && !os.IsNotExist(err) {
			return kerrors.IO(err, "inspect restore target")
		}
		if len(entries) > 0 {
			return kerrors.Validation("restore target %s is not empty (use force to overwrite)", targetDir)
		}
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return kerrors.IO(err, "create restore target")
	}

	f, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return kerrors.NotFound("backup archive %s not found", archivePath)
		}
		return kerrors.IO(err, "open backup archive")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(archivePath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return kerrors.IO(err, "read backup archive")
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return kerrors.IO(err, "read backup archive")
		}

		dest := filepath.Join(targetDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(dest, filepath.Clean(targetDir)+string(os.PathSeparator)) {
			return kerrors.Validation("archive entry %q escapes the restore target", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, hdr.FileInfo().Mode().Perm()); err != nil {
				return kerrors.IO(err, "restore dir %s", hdr.Name)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return kerrors.IO(err, "restore dir for %s", hdr.Name)
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return kerrors.IO(err, "restore file %s", hdr.Name)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return kerrors.IO(err, "restore file %s", hdr.Name)
			}
			if err := out.Close(); err != nil {
				return kerrors.IO(err, "restore file %s", hdr.Name)
			}
		default:
			// Symlinks and specials never appear in vault backups.
			return kerrors.Validation("archive entry %q has unsupported type %d", hdr.Name, hdr.Typeflag)
		}
	}
}

// CleanupOldBackups keeps the newest retentionCount archives in backupDir
// and deletes the rest. It returns the number removed.
func CleanupOldBackups(backupDir string, retentionCount int) (int, error) {
	if retentionCount <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, kerrors.IO(err, "read backup dir")
	}

	var archives []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "vault-backup-") {
			continue
		}
		archives = append(archives, e.Name())
	}
	if len(archives) <= retentionCount {
		return 0, nil
	}

	// The UTC stamp in the name sorts chronologically.
	sort.Strings(archives)
	doomed := archives[:len(archives)-retentionCount]

	removed := 0
	for _, name := range doomed {
		if err := os.Remove(filepath.Join(backupDir, name)); err != nil {
			return removed, kerrors.IO(err, "remove old backup %s", name)
		}
		removed++
	}
	return removed, nil
}
