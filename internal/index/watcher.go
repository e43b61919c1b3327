package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/richfilter/internal/checksum"
	"github.com/starford/richfilter/internal/filter"
	"github.com/starford/richfilter/internal/storage"
)

// Event kinds passed to EventCallback.
const (
	EventCreated  = "created"
	EventUpdated  = "updated"
	EventDeleted  = "deleted"
	EventFiltered = "filtered"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of EventCreated, EventUpdated, EventDeleted or EventFiltered;
// EventFiltered follows a created/updated event when the pipeline rewrote
// the file on disk.
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the vault root and processes file
// change events until ctx is cancelled. Changed documents are sanitized with
// p and written back before they are indexed. It calls cb (if non-nil) after
// each successful index mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass that removes stale
// index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, p *filter.Pipeline, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	notify := func(kind, path string) {
		if cb != nil {
			cb(kind, path)
		}
	}

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, p, logger, notify)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					indexNewDir(db, store, p, vaultRoot, absPath, logger, notify)
					continue
				}
			}

			// Only visible document files from here on.
			if !isWatchedDocument(absPath) {
				continue
			}

			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				ingest(db, store, p, rel, data, SourceWatch, logger, notify)

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteDocument(rel); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				notify(EventDeleted, rel)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a separate Create when it stays inside a
				// watched dir.
				if delErr := db.DeleteDocument(rel); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("path", rel))
					notify(EventDeleted, rel)
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// ingest indexes data for path unless the index already holds these exact
// bytes. The check also swallows the events caused by our own write-back.
func ingest(db *DB, store storage.Provider, p *filter.Pipeline, path string, data []byte, source string, logger *slog.Logger, notify func(kind, path string)) {
	stored, err := db.GetChecksum(path)
	if err != nil {
		logger.Warn("watcher: checksum lookup failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if stored == checksum.Sum(data) {
		return
	}

	prep, err := ingestFile(db, store, p, path, data, source)
	if err != nil {
		// Partial writes fail to parse; the next write event retries.
		logger.Warn("watcher: index failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	kind := EventUpdated
	if stored == "" {
		kind = EventCreated
	}
	logger.Debug("watcher: indexed",
		slog.String("path", path),
		slog.String("op", kind),
		slog.Bool("filtered", prep.Changed))
	notify(kind, path)
	if prep.Changed {
		notify(EventFiltered, path)
	}
}

// reconcile does a lightweight sync using batch lookups: index entries
// without a file on disk are removed, and changed or unindexed files are
// ingested.
func reconcile(db *DB, store storage.Provider, p *filter.Pipeline, logger *slog.Logger, notify func(kind, path string)) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for path := range checksums {
		if _, ok := disk[path]; !ok {
			if delErr := db.DeleteDocument(path); delErr == nil {
				logger.Debug("reconcile: removed stale", slog.String("path", path))
				notify(EventDeleted, path)
			}
		}
	}

	for path, cs := range disk {
		if checksums[path] == cs {
			continue
		}
		data, readErr := store.Read(path)
		if readErr != nil {
			continue
		}
		ingest(db, store, p, path, data, SourceWatch, logger, notify)
	}
}

// indexNewDir ingests any documents found in a newly created directory.
func indexNewDir(db *DB, store storage.Provider, p *filter.Pipeline, vaultRoot, dirPath string, logger *slog.Logger, notify func(kind, path string)) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isWatchedDocument(path) {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		data, readErr := store.Read(rel)
		if readErr != nil {
			return nil
		}
		ingest(db, store, p, rel, data, SourceWatch, logger, notify)
		return nil
	})
}

func isWatchedDocument(path string) bool {
	name := filepath.Base(path)
	return !strings.HasPrefix(name, ".") && storage.IsDocument(name)
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
