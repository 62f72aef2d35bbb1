package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/waymark/internal/models"
	"github.com/starford/waymark/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted"; name is the workspace name.
type EventCallback func(kind string, name string)

// Watch starts an fsnotify watcher on the workspace directory and processes
// document change events until ctx is cancelled. It calls cb (if non-nil)
// after each index mutation whose checksum differs from the indexed one, so
// rewrites of identical content are silent.
//
// Temporary files of atomic writes and quarantined documents are ignored.
// Rename events trigger a reconciliation pass that removes stale index
// entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

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
			reconcile(db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			base := filepath.Base(ev.Name)
			if filepath.Dir(ev.Name) != filepath.Clean(root) || !storage.IsDocument(base) {
				continue
			}
			name := strings.TrimSuffix(base, models.DocumentExt)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(base)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("workspace", name), slog.String("error", readErr.Error()))
					continue
				}
				prev, _ := db.GetChecksum(name)
				if prev == storage.Checksum(data) {
					continue
				}
				if idxErr := IndexDocument(db, name, data); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("workspace", name), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if prev == "" {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("workspace", name), slog.String("op", kind))
				if cb != nil {
					cb(kind, name)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteWorkspace(name); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("workspace", name), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("workspace", name))
				if cb != nil {
					cb("deleted", name)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; quarantining a
				// corrupt document lands here too. The new path, if it is a
				// document, arrives as a separate Create event.
				if delErr := db.DeleteWorkspace(name); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("workspace", name), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("workspace", name))
					if cb != nil {
						cb("deleted", name)
					}
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

// reconcile does a lightweight sync using batch lookups: finds index entries
// without a corresponding document on disk and removes them, and finds
// documents that are not indexed (or changed) and indexes them.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List()
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]models.WorkspaceMetadata, len(metas))
	for _, m := range metas {
		disk[m.Name] = m
	}

	for name := range checksums {
		if _, ok := disk[name]; !ok {
			if delErr := db.DeleteWorkspace(name); delErr == nil {
				logger.Debug("reconcile: removed stale", slog.String("workspace", name))
				if cb != nil {
					cb("deleted", name)
				}
			}
		}
	}

	for name, m := range disk {
		prev, indexed := checksums[name]
		if prev == m.Checksum {
			continue
		}
		data, readErr := store.Read(m.Path)
		if readErr != nil {
			continue
		}
		if idxErr := indexDocument(db, m, data); idxErr == nil {
			logger.Debug("reconcile: indexed", slog.String("workspace", name))
			if cb != nil {
				kind := "updated"
				if !indexed {
					kind = "created"
				}
				cb(kind, name)
			}
		}
	}
}
