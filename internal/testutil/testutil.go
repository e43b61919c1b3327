// Package testutil provides shared test helpers for setting up vaults,
// databases and sample documents.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/richfilter/internal/filter"
	"github.com/starford/richfilter/internal/index"
	"github.com/starford/richfilter/internal/storage"
)

// CleanDoc passes the default pipeline unchanged.
const CleanDoc = `{
  "blocks": [
    {"key": "h", "type": "header-two", "depth": 0, "text": "Release notes", "inlineStyleRanges": [], "entityRanges": []},
    {"key": "p", "type": "unstyled", "depth": 0, "text": "Read the docs", "inlineStyleRanges": [{"offset": 0, "length": 4, "style": "BOLD"}], "entityRanges": [{"offset": 9, "length": 4, "key": 0}]}
  ],
  "entityMap": {"0": {"type": "LINK", "mutability": "MUTABLE", "data": {"url": "https://example.com/docs"}}}
}
`

// DirtyDoc needs three rewrites under the default pipeline: a disallowed
// block type, a disallowed inline style and an inline IMAGE entity.
const DirtyDoc = `{
  "blocks": [
    {"key": "h", "type": "header-one", "depth": 0, "text": "Draft", "inlineStyleRanges": [], "entityRanges": []},
    {"key": "p", "type": "unstyled", "depth": 0, "text": "see picture", "inlineStyleRanges": [{"offset": 0, "length": 3, "style": "UNDERLINE"}], "entityRanges": [{"offset": 4, "length": 7, "key": 0}]}
  ],
  "entityMap": {"0": {"type": "IMAGE", "mutability": "IMMUTABLE", "data": {"src": "/a.png"}}}
}
`

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "richfilter-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteFile writes content to rel inside the vault, creating parent dirs.
func WriteFile(t *testing.T, vaultDir, rel, content string) {
	t.Helper()
	abs := filepath.Join(vaultDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Pipeline returns a pipeline over the default filter configuration.
func Pipeline() *filter.Pipeline {
	return filter.New(filter.DefaultConfig())
}

// Logger returns a logger that only emits errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
