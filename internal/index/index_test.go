package index

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/waymark/internal/models"
	"github.com/starford/waymark/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "waymark-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

const labDocument = `{"anchors":[
 {"id":"g1","key":"poster","kind":"image","records":[{"id":"r1","position":[1,0,0],"rotation":[0,0,0,1]}]},
 {"id":"g2","kind":"plane","origin":{"position":[0,0,0],"rotation":[0,0,0,1]},"records":[
  {"id":"r2","position":[0,1,0],"rotation":[0,0,0,1]},
  {"id":"r3","position":[0,2,0],"rotation":[0,0,0,1]}]}
]}`

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM workspaces`).Scan(&count); err != nil {
		t.Fatalf("workspaces table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM groups`).Scan(&count); err != nil {
		t.Fatalf("groups table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	ws := models.WorkspaceSummary{Name: "lab", Checksum: "abc123", GroupCount: 1, RecordCount: 2, UpdatedAt: time.Now()}
	if err := db.UpsertWorkspace(ws, []models.GroupSummary{{ID: "g1", Key: "poster", Kind: "image", RecordCount: 2}}); err != nil {
		t.Fatalf("UpsertWorkspace: %v", err)
	}
	cs, err := db.GetChecksum("lab")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestUpsertReplacesGroups(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertWorkspace(models.WorkspaceSummary{Name: "lab", Checksum: "1", UpdatedAt: now},
		[]models.GroupSummary{{ID: "g1", Key: "poster", Kind: "image"}, {ID: "g2", Kind: "plane"}})
	_ = db.UpsertWorkspace(models.WorkspaceSummary{Name: "lab", Checksum: "2", UpdatedAt: now},
		[]models.GroupSummary{{ID: "g3", Key: "painting", Kind: "image", RecordCount: 4}})

	groups, err := db.ListGroups("lab")
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g3" || groups[0].RecordCount != 4 {
		t.Errorf("groups = %+v, want only g3", groups)
	}
}

func TestDeleteWorkspace(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertWorkspace(models.WorkspaceSummary{Name: "del", Checksum: "x", UpdatedAt: time.Now()},
		[]models.GroupSummary{{ID: "g1", Key: "poster", Kind: "image"}})

	if err := db.DeleteWorkspace("del"); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	cs, _ := db.GetChecksum("del")
	if cs != "" {
		t.Errorf("deleted workspace still has checksum %q", cs)
	}
	groups, _ := db.ListGroups("del")
	if len(groups) != 0 {
		t.Errorf("expected 0 groups after delete, got %d", len(groups))
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestListWorkspacesOrdered(t *testing.T) {
	db := testDB(t)
	for _, name := range []string{"b", "a", "c"} {
		_ = db.UpsertWorkspace(models.WorkspaceSummary{Name: name, Checksum: name, UpdatedAt: time.Now()}, nil)
	}
	list, err := db.ListWorkspaces()
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(list) != 3 || list[0].Name != "a" || list[2].Name != "c" {
		t.Errorf("list = %+v", list)
	}
}

func TestSearchKeys_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertWorkspace(models.WorkspaceSummary{Name: "lab", Checksum: "1", UpdatedAt: time.Now()},
		[]models.GroupSummary{{ID: "g1", Key: "poster", Kind: "image", RecordCount: 1}, {ID: "g2", Kind: "plane"}})

	hits, err := db.SearchKeys("poster", 10)
	if err != nil {
		t.Fatalf("SearchKeys: %v", err)
	}
	if len(hits) != 1 || hits[0].Workspace != "lab" || hits[0].GroupID != "g1" {
		t.Errorf("hits = %+v, want g1 in lab", hits)
	}
}

func TestSyncIndexesDocuments(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_ = os.WriteFile(filepath.Join(dir, "lab.json"), []byte(labDocument), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)
	_ = db.UpsertWorkspace(models.WorkspaceSummary{Name: "gone", Checksum: "z", UpdatedAt: time.Now()}, nil)

	if err := Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	list, _ := db.ListWorkspaces()
	if len(list) != 1 || list[0].Name != "lab" {
		t.Fatalf("workspaces = %+v, want only lab", list)
	}
	if list[0].GroupCount != 2 || list[0].RecordCount != 3 {
		t.Errorf("counts = %d groups / %d records, want 2 / 3", list[0].GroupCount, list[0].RecordCount)
	}
	groups, _ := db.ListGroups("lab")
	if len(groups) != 2 || groups[0].Key != "poster" || groups[1].Kind != "plane" {
		t.Errorf("groups = %+v", groups)
	}
}
