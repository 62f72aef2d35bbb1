package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/starford/waymark/internal/apperr"
	"github.com/starford/waymark/internal/placement"
	"github.com/starford/waymark/internal/sse"
	"github.com/starford/waymark/internal/testutil"
	"github.com/starford/waymark/internal/tracking"
)

type recorder struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recorder) Publish(ev sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func newService(t *testing.T, st Settings) (*Service, *recorder, string) {
	t.Helper()
	dir, fs := testutil.TestWorkspaceDir(t)
	rec := &recorder{}
	svc := NewService(fs, testutil.TestDB(t), WithLogger(testutil.Discard), WithSettings(st), WithPublisher(rec))
	t.Cleanup(svc.Close)
	return svc, rec, dir
}

func placeOn(frame tracking.ReferenceFrame, x, y, z float64) placement.Input {
	return placement.Input{
		Tracking: tracking.Update{Added: []tracking.ReferenceFrame{frame}},
		Placement: &placement.PlacementInput{
			Hit:            &placement.Hit{FrameID: frame.ID, Pose: testutil.At(x, y, z)},
			WantsPlacement: true,
		},
	}
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"lab", "floor-2", "a_b"} {
		if err := ValidateName(ok); err != nil {
			t.Errorf("ValidateName(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "../etc", "a b", "x.json"} {
		if err := ValidateName(bad); !errors.Is(err, apperr.ErrInvalidWorkspace) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidWorkspace", bad, err)
		}
	}
}

func TestTickPersistsIndexesAndPublishes(t *testing.T) {
	svc, rec, dir := newService(t, Settings{})
	ctx := context.Background()

	out, err := svc.Tick(ctx, "lab", placeOn(testutil.Image("img-1", "poster", testutil.At(1, 0, 1)), 2, 0, 1))
	if err != nil || out.Err != nil {
		t.Fatalf("Tick: %v / %v", err, out.Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "lab.json")); err != nil {
		t.Fatalf("document not written: %v", err)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "lab" || list[0].RecordCount != 1 {
		t.Fatalf("list = %+v", list)
	}

	types := rec.types()
	for _, want := range []string{sse.TypeAnchorPlaced, sse.TypeStatus, sse.TypeWorkspaceUpdated} {
		if !contains(types, want) {
			t.Errorf("events %v missing %s", types, want)
		}
	}
}

func TestTickRejectsBadName(t *testing.T) {
	svc, _, _ := newService(t, Settings{})
	if _, err := svc.Tick(context.Background(), "../x", placement.Input{}); !errors.Is(err, apperr.ErrInvalidWorkspace) {
		t.Fatalf("err = %v", err)
	}
}

func TestWorkspacesAreIsolated(t *testing.T) {
	svc, _, _ := newService(t, Settings{})
	ctx := context.Background()
	if _, err := svc.Tick(ctx, "a", placeOn(testutil.Image("img-1", "poster", testutil.At(0, 0, 0)), 1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	doc, err := svc.Document(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if !doc.IsEmpty() {
		t.Errorf("workspace b sees %d groups", len(doc.Groups))
	}
}

func TestAsyncSaveFlushesOnClose(t *testing.T) {
	dir, fs := testutil.TestWorkspaceDir(t)
	svc := NewService(fs, testutil.TestDB(t), WithLogger(testutil.Discard), WithSettings(Settings{AsyncSave: true}))

	if _, err := svc.Tick(context.Background(), "lab", placeOn(testutil.Plane("p1", testutil.At(0, 0, 0)), 0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	svc.Close()

	data, err := os.ReadFile(filepath.Join(dir, "lab.json"))
	if err != nil {
		t.Fatalf("document not flushed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty document")
	}
}

func TestClearGroupAndAll(t *testing.T) {
	svc, _, _ := newService(t, Settings{})
	ctx := context.Background()
	out, err := svc.Tick(ctx, "lab", placeOn(testutil.Image("img-1", "poster", testutil.At(0, 0, 0)), 1, 0, 0))
	if err != nil || out.Placed == nil {
		t.Fatalf("Tick: %v %+v", err, out)
	}

	if err := svc.ClearGroup(ctx, "lab", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ClearGroup missing = %v", err)
	}
	if err := svc.ClearGroup(ctx, "lab", out.Placed.GroupID); err != nil {
		t.Fatalf("ClearGroup: %v", err)
	}
	groups, _ := svc.Groups(ctx, "lab")
	if len(groups) != 0 {
		t.Errorf("groups after clear = %+v", groups)
	}
	if err := svc.ClearAll(ctx, "lab"); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
}

func TestExternalChangeReloads(t *testing.T) {
	svc, _, dir := newService(t, Settings{})
	ctx := context.Background()
	if _, err := svc.Tick(ctx, "lab", placeOn(testutil.Image("img-1", "poster", testutil.At(0, 0, 0)), 1, 0, 0)); err != nil {
		t.Fatal(err)
	}

	// The service's own write is recognised and not reloaded.
	svc.HandleExternalChange(ctx, "updated", "lab")

	external := `{"anchors":[{"id":"g9","key":"painting","kind":"image","records":[]}]}`
	if err := os.WriteFile(filepath.Join(dir, "lab.json"), []byte(external), 0o644); err != nil {
		t.Fatal(err)
	}
	svc.HandleExternalChange(ctx, "updated", "lab")

	doc, _ := svc.Document(ctx, "lab")
	if len(doc.Groups) != 1 || doc.Groups[0].Key != "painting" {
		t.Fatalf("doc after external change = %+v", doc)
	}
}

func TestSearchKeys(t *testing.T) {
	svc, _, _ := newService(t, Settings{})
	ctx := context.Background()
	if _, err := svc.Tick(ctx, "lab", placeOn(testutil.Image("img-1", "poster", testutil.At(0, 0, 0)), 1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	hits, err := svc.SearchKeys(ctx, "poster", 10)
	if err != nil {
		t.Fatalf("SearchKeys: %v", err)
	}
	if len(hits) != 1 || hits[0].Workspace != "lab" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestImportLegacyDocument(t *testing.T) {
	svc, _, dir := newService(t, Settings{})
	ctx := context.Background()

	doc, err := svc.Import(ctx, "lab", []byte(`{"positions":[[1,2,3],[4,5,6]]}`), "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if doc.RecordCount() != 2 {
		t.Fatalf("records = %d, want 2", doc.RecordCount())
	}
	data, err := os.ReadFile(filepath.Join(dir, "lab.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"anchors"`) {
		t.Errorf("stored document not canonical: %s", data)
	}

	if _, err := svc.Import(ctx, "lab", []byte(`{"unknown":1}`), ""); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument", err)
	}
}

func TestImportSingleRecordNeedsKey(t *testing.T) {
	svc, _, _ := newService(t, Settings{})
	ctx := context.Background()
	single := []byte(`{"localPosition":{"x":0,"y":0.1,"z":0},"localRotation":{"x":0,"y":0,"z":0,"w":1}}`)

	if _, err := svc.Import(ctx, "lab", single, ""); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument without a key", err)
	}
	doc, err := svc.Import(ctx, "lab", single, "poster")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	g, ok := doc.GroupByKey("poster")
	if !ok || len(g.Records) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
}
