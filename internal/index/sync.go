package index

import (
	"log/slog"
	"time"

	"github.com/starford/waymark/internal/anchorstore"
	"github.com/starford/waymark/internal/models"
	"github.com/starford/waymark/internal/storage"
)

// Sync walks the workspace directory and brings the index up to date:
//   - new/changed documents are decoded and upserted
//   - documents removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Name] = struct{}{}

		if checksums[m.Name] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("workspace", m.Name), slog.String("error", err.Error()))
			continue
		}
		if err := indexDocument(db, m, data); err != nil {
			logger.Warn("sync: index failed", slog.String("workspace", m.Name), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("workspace", m.Name))
		}
	}

	// Remove stale entries.
	for name := range checksums {
		if _, ok := disk[name]; !ok {
			if err := db.DeleteWorkspace(name); err != nil {
				logger.Warn("sync: delete failed", slog.String("workspace", name), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("workspace", name))
			}
		}
	}

	return nil
}

// IndexDocument decodes data and upserts the workspace into the index.
// Exported so that writers can refresh the index right after a save.
func IndexDocument(db WorkspaceIndex, name string, data []byte) error {
	return indexDocument(db, models.WorkspaceMetadata{
		Name:      name,
		Path:      name + models.DocumentExt,
		Checksum:  storage.Checksum(data),
		UpdatedAt: time.Now(),
	}, data)
}

// Summarize builds the index rows for a decoded document.
func Summarize(name, checksum string, updatedAt time.Time, doc anchorstore.Document) (models.WorkspaceSummary, []models.GroupSummary) {
	ws := models.WorkspaceSummary{
		Name:        name,
		Checksum:    checksum,
		GroupCount:  len(doc.Groups),
		RecordCount: doc.RecordCount(),
		UpdatedAt:   updatedAt,
	}
	groups := make([]models.GroupSummary, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		groups = append(groups, models.GroupSummary{
			ID:          g.ID,
			Key:         g.Key,
			Kind:        g.Kind.String(),
			RecordCount: len(g.Records),
		})
	}
	return ws, groups
}

func indexDocument(db WorkspaceIndex, m models.WorkspaceMetadata, data []byte) error {
	doc, err := anchorstore.Decode(data)
	if err != nil {
		return err
	}
	ws, groups := Summarize(m.Name, m.Checksum, m.UpdatedAt, doc)
	return db.UpsertWorkspace(ws, groups)
}
