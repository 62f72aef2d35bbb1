// Package models defines the types shared between storage and the index.
package models

import "time"

// DocumentExt is the file extension of persisted workspace documents.
const DocumentExt = ".json"

// WorkspaceMetadata describes one workspace document on disk.
type WorkspaceMetadata struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkspaceSummary is the indexed view of a workspace returned by listings.
type WorkspaceSummary struct {
	Name        string    `json:"name"`
	Checksum    string    `json:"checksum"`
	GroupCount  int       `json:"group_count"`
	RecordCount int       `json:"record_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupSummary is the indexed view of one reference group.
type GroupSummary struct {
	ID          string `json:"id"`
	Key         string `json:"key,omitempty"`
	Kind        string `json:"kind"`
	RecordCount int    `json:"record_count"`
}
