package index

import (
	"fmt"

	"github.com/starford/waymark/internal/models"
)

// KeyHit is one reference key matched by SearchKeys.
type KeyHit struct {
	Workspace   string `json:"workspace"`
	GroupID     string `json:"group_id"`
	Key         string `json:"key"`
	RecordCount int    `json:"record_count"`
}

// UpsertWorkspace replaces a workspace row and all of its group rows within a
// transaction.
func (db *DB) UpsertWorkspace(ws models.WorkspaceSummary, groups []models.GroupSummary) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO workspaces (name, checksum, group_count, record_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			checksum     = excluded.checksum,
			group_count  = excluded.group_count,
			record_count = excluded.record_count,
			updated_at   = excluded.updated_at
	`, ws.Name, ws.Checksum, ws.GroupCount, ws.RecordCount, ws.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert workspace: %w", err)
	}

	_, _ = tx.Exec(`DELETE FROM groups WHERE workspace = ?`, ws.Name)
	ftsDelete(tx, ws.Name)
	if len(groups) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO groups (workspace, id, key, kind, record_count) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare group insert: %w", err)
		}
		defer stmt.Close()
		for _, g := range groups {
			if _, err := stmt.Exec(ws.Name, g.ID, g.Key, g.Kind, g.RecordCount); err != nil {
				return fmt.Errorf("index: insert group: %w", err)
			}
			if g.Key == "" {
				continue
			}
			if err := ftsUpsert(tx, ws.Name, g.ID, g.Key); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// DeleteWorkspace removes a workspace and its groups.
func (db *DB) DeleteWorkspace(name string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, name)
	_, _ = tx.Exec(`DELETE FROM groups WHERE workspace = ?`, name)
	_, _ = tx.Exec(`DELETE FROM workspaces WHERE name = ?`, name)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a workspace, or empty string if not found.
func (db *DB) GetChecksum(name string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM workspaces WHERE name = ?`, name).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns name → checksum for every indexed workspace.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT name, checksum FROM workspaces`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, cs string
		if err := rows.Scan(&name, &cs); err != nil {
			return nil, err
		}
		out[name] = cs
	}
	return out, rows.Err()
}

// ListWorkspaces returns every indexed workspace ordered by name.
func (db *DB) ListWorkspaces() ([]models.WorkspaceSummary, error) {
	rows, err := db.conn.Query(`
		SELECT name, checksum, group_count, record_count, updated_at
		FROM workspaces
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("index: list workspaces: %w", err)
	}
	defer rows.Close()

	out := []models.WorkspaceSummary{}
	for rows.Next() {
		var w models.WorkspaceSummary
		if err := rows.Scan(&w.Name, &w.Checksum, &w.GroupCount, &w.RecordCount, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListGroups returns the groups of one workspace in document order.
func (db *DB) ListGroups(workspace string) ([]models.GroupSummary, error) {
	rows, err := db.conn.Query(`
		SELECT id, key, kind, record_count
		FROM groups
		WHERE workspace = ?
		ORDER BY rowid
	`, workspace)
	if err != nil {
		return nil, fmt.Errorf("index: list groups: %w", err)
	}
	defer rows.Close()

	out := []models.GroupSummary{}
	for rows.Next() {
		var g models.GroupSummary
		if err := rows.Scan(&g.ID, &g.Key, &g.Kind, &g.RecordCount); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
