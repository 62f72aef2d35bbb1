//go:build sqlite_fts5

package index

import (
	"testing"
	"time"

	"github.com/starford/waymark/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM keys_fts`).Scan(&count); err != nil {
		t.Fatalf("keys_fts table missing: %v", err)
	}
}

func TestFTS5_SearchKeysTokens(t *testing.T) {
	db := testDB(t)
	err := db.UpsertWorkspace(
		models.WorkspaceSummary{Name: "lab", Checksum: "1", GroupCount: 1, RecordCount: 3, UpdatedAt: time.Now()},
		[]models.GroupSummary{{ID: "g1", Key: "museum poster", Kind: "image", RecordCount: 3}},
	)
	if err != nil {
		t.Fatalf("UpsertWorkspace: %v", err)
	}

	hits, err := db.SearchKeys("poster", 10)
	if err != nil {
		t.Fatalf("SearchKeys: %v", err)
	}
	if len(hits) != 1 || hits[0].GroupID != "g1" || hits[0].RecordCount != 3 {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestFTS5_ReindexReplacesKeys(t *testing.T) {
	db := testDB(t)
	ws := models.WorkspaceSummary{Name: "lab", Checksum: "1", UpdatedAt: time.Now()}
	_ = db.UpsertWorkspace(ws, []models.GroupSummary{{ID: "g1", Key: "poster", Kind: "image"}})
	ws.Checksum = "2"
	_ = db.UpsertWorkspace(ws, []models.GroupSummary{{ID: "g2", Key: "painting", Kind: "image"}})

	hits, _ := db.SearchKeys("poster", 10)
	if len(hits) != 0 {
		t.Errorf("stale key still indexed: %+v", hits)
	}
}
