// Package storage defines the workspace directory abstraction.
package storage

import "github.com/starford/waymark/internal/models"

// Provider is the interface for workspace file operations. Paths are relative
// to the workspace directory.
type Provider interface {
	// List returns metadata for every document file in the workspace directory.
	List() ([]models.WorkspaceMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path with content.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
