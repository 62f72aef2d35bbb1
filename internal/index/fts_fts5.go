//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS keys_fts USING fts5(
			workspace UNINDEXED,
			group_id UNINDEXED,
			key,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, workspace, groupID, key string) error {
	_, err := tx.Exec(`INSERT INTO keys_fts (workspace, group_id, key) VALUES (?, ?, ?)`,
		workspace, groupID, key)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, workspace string) {
	_, _ = tx.Exec(`DELETE FROM keys_fts WHERE workspace = ?`, workspace)
}

// SearchKeys performs an FTS5 search over reference keys.
func (db *DB) SearchKeys(query string, limit int) ([]KeyHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT f.workspace, f.group_id, f.key, coalesce(g.record_count, 0)
		FROM keys_fts f
		LEFT JOIN groups g ON g.workspace = f.workspace AND g.id = f.group_id
		WHERE keys_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
