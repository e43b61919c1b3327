package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return store
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("doc.json", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("doc.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempVault(t)
	if err := s.Write("a/b/c.json", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("del.json", []byte("bye"))
	if err := s.Delete("del.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.json"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("old.json", []byte("data"))
	if err := s.Move("old.json", "sub/new.json"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.json")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.json"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("a.json", []byte("{}"))
	_ = s.Write("sub/b.yaml", []byte("blocks: []"))
	_ = s.Write("readme.txt", []byte("not a document"))
	_ = s.Write(".hidden.json", []byte("{}"))
	_ = s.Write(".trash/c.json", []byte("{}"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Checksum == "" {
			t.Errorf("%s: empty checksum", it.Path)
		}
	}
}

func TestMove_RefusesOverwrite(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("a.json", []byte("a"))
	_ = s.Write("b.json", []byte("b"))

	if err := s.Move("a.json", "b.json"); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("err = %v, want fs.ErrExist", err)
	}
	got, _ := s.Read("b.json")
	if string(got) != "b" {
		t.Errorf("target overwritten: %q", got)
	}
}

func TestMove_ConcurrentSameTarget(t *testing.T) {
	s := tempVault(t)
	const n = 8
	for i := range n {
		_ = s.Write(fmt.Sprintf("src%d.json", i), []byte(fmt.Sprint(i)))
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Move(fmt.Sprintf("src%d.json", i), "target.json")
		}()
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
			if ok, _ := s.Exists(fmt.Sprintf("src%d.json", i)); ok {
				t.Errorf("src%d.json should be removed after a successful move", i)
			}
		case errors.Is(err, fs.ErrExist):
			if ok, _ := s.Exists(fmt.Sprintf("src%d.json", i)); !ok {
				t.Errorf("src%d.json should survive a refused move", i)
			}
		default:
			t.Errorf("move %d: %v", i, err)
		}
	}
	if winners != 1 {
		t.Errorf("successful moves = %d, want 1", winners)
	}
}

func TestExists(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("a.json", []byte("{}"))

	if ok, err := s.Exists("a.json"); err != nil || !ok {
		t.Errorf("Exists(a.json) = %v, %v", ok, err)
	}
	if ok, err := s.Exists("missing.json"); err != nil || ok {
		t.Errorf("Exists(missing.json) = %v, %v", ok, err)
	}
	if _, err := s.Exists("../escape.json"); err == nil {
		t.Error("expected traversal error")
	}
}

func TestWrite_FileMode(t *testing.T) {
	s := tempVault(t)
	if err := s.Write("new.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(filepath.Join(s.root, "new.json"))
	if info.Mode().Perm() != defaultFileMode {
		t.Errorf("new file mode = %v, want %v", info.Mode().Perm(), defaultFileMode)
	}

	if err := os.Chmod(filepath.Join(s.root, "new.json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_ = s.Write("new.json", []byte("{ }"))
	info, _ = os.Stat(filepath.Join(s.root, "new.json"))
	if info.Mode().Perm() != 0o600 {
		t.Errorf("rewrite mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.json",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempVault(t)
	original := []byte("original content")
	_ = s.Write("atomic.json", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.json", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.json")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, ".richfilter-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/richfilter-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "richfilter-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestIsDocument(t *testing.T) {
	cases := map[string]bool{
		"a.json":    true,
		"b.YAML":    true,
		"c/d.yml":   true,
		"notes.md":  false,
		"json":      false,
		"image.png": false,
	}
	for name, want := range cases {
		if got := IsDocument(name); got != want {
			t.Errorf("IsDocument(%q) = %v, want %v", name, got, want)
		}
	}
}
