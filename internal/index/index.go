package index

import "github.com/starford/waymark/internal/models"

// WorkspaceIndex defines the interface for workspace indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type WorkspaceIndex interface {
	UpsertWorkspace(ws models.WorkspaceSummary, groups []models.GroupSummary) error
	DeleteWorkspace(name string) error
	GetChecksum(name string) (string, error)
	AllChecksums() (map[string]string, error)
	ListWorkspaces() ([]models.WorkspaceSummary, error)
	ListGroups(workspace string) ([]models.GroupSummary, error)
	SearchKeys(query string, limit int) ([]KeyHit, error)
	Close() error
}

// Verify *DB satisfies WorkspaceIndex at compile time.
var _ WorkspaceIndex = (*DB)(nil)
