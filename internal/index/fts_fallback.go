//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; key search uses a LIKE fallback on groups.key.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _ string) error {
	// Keys are already stored in the groups table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// SearchKeys performs a LIKE-based search over reference keys (fallback when
// FTS5 is not compiled in).
func (db *DB) SearchKeys(query string, limit int) ([]KeyHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT workspace, id, key, record_count
		FROM groups
		WHERE key <> '' AND key LIKE ?
		ORDER BY workspace, key
		LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("index: search keys: %w", err)
	}
	defer rows.Close()

	out := []KeyHit{}
	for rows.Next() {
		var h KeyHit
		if err := rows.Scan(&h.Workspace, &h.GroupID, &h.Key, &h.RecordCount); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
