package store

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultExcludes are glob patterns (slash-separated, relative to the
// workspace root) never included in workspace archives.
var defaultExcludes = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"**/*.tmp",
	".taskloop/**",
}

func excluded(rel string) bool {
	for _, pattern := range defaultExcludes {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// CreateArchive writes a tar.gz snapshot of srcDir to destPath. Returns
// false without writing anything when the directory holds no archivable
// files. The archive is written to a temp file and renamed into place.
func CreateArchive(srcDir, destPath string) (bool, error) {
	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel) {
			return nil
		}
		// Regular files only; sockets, devices and symlinks are skipped.
		if !d.Type().IsRegular() {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("walk workspace: %w", err)
	}
	if len(files) == 0 {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return false, fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".archive-*")
	if err != nil {
		return false, fmt.Errorf("create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	for _, rel := range files {
		if err := addFile(tw, srcDir, rel); err != nil {
			tw.Close()
			gz.Close()
			tmp.Close()
			return false, err
		}
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		tmp.Close()
		return false, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("close gzip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close temp archive: %w", err)
	}

	if err := os.Rename(tmpName, destPath); err != nil {
		return false, fmt.Errorf("finalize archive: %w", err)
	}
	return true, nil
}

func addFile(tw *tar.Writer, srcDir, rel string) error {
	path := filepath.Join(srcDir, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("header %s: %w", rel, err)
	}
	hdr.Name = rel

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", rel, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s: %w", rel, err)
	}
	return nil
}

// ExtractArchive unpacks a tar.gz archive into destDir, creating it if
// needed. Entries that would escape destDir are rejected.
func ExtractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name := filepath.FromSlash(hdr.Name)
		target := filepath.Join(destDir, name)
		rel, err := filepath.Rel(destDir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create dir for %s: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("close %s: %w", hdr.Name, err)
			}
		default:
			// Symlinks and special files are not part of workspace snapshots.
		}
	}
}
