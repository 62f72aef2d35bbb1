package anchorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/starford/waymark/internal/apperr"
	"github.com/starford/waymark/internal/storage"
)

// Store loads and saves a whole document as one unit.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// DeserializationError reports a document file that exists but cannot be
// parsed. Callers treat the workspace as empty and keep running.
type DeserializationError struct {
	Path string
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("anchorstore: cannot decode %s: %v", e.Path, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// FileStore keeps one workspace document in a storage.Provider.
//
// A corrupt file is never deleted: the first save after a failed load moves it
// aside to "<path>.corrupt-<timestamp>" before writing the new document.
type FileStore struct {
	fs     storage.Provider
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	corrupt bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store for the document at path within fs.
func NewFileStore(fs storage.Provider, path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{fs: fs, path: path, logger: logger, now: time.Now}
}

// Path returns the document path relative to the provider root.
func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing file is the first-run state and yields an
// empty document with a nil error. An unparsable file yields an empty
// document together with a *DeserializationError.
func (s *FileStore) Load(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.fs.Read(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.corrupt = false
			return Document{}, nil
		}
		return Document{}, err
	}
	doc, err := Decode(data)
	if err != nil {
		s.corrupt = true
		return Document{}, &DeserializationError{Path: s.path, Err: err}
	}
	s.corrupt = false
	return doc, nil
}

// Save overwrites the document file in full using an atomic replace.
func (s *FileStore) Save(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrWriteFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupt {
		aside := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102T150405"))
		if err := s.fs.Move(s.path, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: quarantine %s: %v", apperr.ErrWriteFailure, s.path, err)
		}
		s.logger.Warn("anchorstore: corrupt document moved aside",
			slog.String("path", s.path),
			slog.String("moved_to", aside))
		s.corrupt = false
	}

	if err := s.fs.Write(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrWriteFailure, err)
	}
	return nil
}
