package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateArchiveEmptyDir(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out.tar.gz")

	wrote, err := CreateArchive(src, dest)
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	if wrote {
		t.Error("empty dir should not produce an archive")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("no archive file expected")
	}
}

func TestCreateArchiveAppliesExcludes(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "keep.txt"), "keep")
	mustWrite(t, filepath.Join(src, "node_modules", "dep", "index.js"), "skip")
	mustWrite(t, filepath.Join(src, "scratch.tmp"), "skip")

	dest := filepath.Join(t.TempDir(), "out.tar.gz")
	wrote, err := CreateArchive(src, dest)
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	if !wrote {
		t.Fatal("expected an archive to be written")
	}

	out := t.TempDir()
	if err := ExtractArchive(dest, out); err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}

	if got := readFile(t, filepath.Join(out, "keep.txt")); got != "keep" {
		t.Errorf("keep.txt = %q", got)
	}
	if _, err := os.Stat(filepath.Join(out, "node_modules")); !os.IsNotExist(err) {
		t.Error("node_modules should be excluded")
	}
	if _, err := os.Stat(filepath.Join(out, "scratch.tmp")); !os.IsNotExist(err) {
		t.Error("*.tmp should be excluded")
	}
}

func TestExtractArchivePreservesTree(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "a", "b", "deep.txt"), "deep")
	mustWrite(t, filepath.Join(src, "top.txt"), "top")

	dest := filepath.Join(t.TempDir(), "out.tar.gz")
	if _, err := CreateArchive(src, dest); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	out := t.TempDir()
	if err := ExtractArchive(dest, out); err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if got := readFile(t, filepath.Join(out, "a", "b", "deep.txt")); got != "deep" {
		t.Errorf("deep.txt = %q", got)
	}
	if got := readFile(t, filepath.Join(out, "top.txt")); got != "top" {
		t.Errorf("top.txt = %q", got)
	}
}
