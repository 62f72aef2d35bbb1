// Package testutil provides shared test helpers for setting up workspace
// directories, databases and tracked frames.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/starford/waymark/internal/index"
	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/storage"
	"github.com/starford/waymark/internal/tracking"
)

// Discard is a logger that drops everything.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "waymark-test-*.db")
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

// TestWorkspaceDir creates a temporary workspace directory with its storage.FS.
func TestWorkspaceDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// At returns an unrotated pose at (x, y, z).
func At(x, y, z float64) pose.Pose {
	return pose.Pose{Position: mgl64.Vec3{x, y, z}, Rotation: mgl64.QuatIdent()}
}

// Image returns a tracking image frame.
func Image(id, label string, p pose.Pose) tracking.ReferenceFrame {
	return tracking.ReferenceFrame{ID: id, Kind: tracking.KindImage, State: tracking.Tracking, Label: label, Pose: p}
}

// Plane returns a tracking plane frame.
func Plane(id string, p pose.Pose) tracking.ReferenceFrame {
	return tracking.ReferenceFrame{ID: id, Kind: tracking.KindPlane, State: tracking.Tracking, Pose: p}
}
