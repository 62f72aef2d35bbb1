// Package workspace hosts one placement controller per named workspace and
// keeps the catalogue index and live subscribers in step with it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/waymark/internal/anchorstore"
	"github.com/starford/waymark/internal/apperr"
	"github.com/starford/waymark/internal/index"
	"github.com/starford/waymark/internal/models"
	"github.com/starford/waymark/internal/placement"
	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/resolver"
	"github.com/starford/waymark/internal/sse"
	"github.com/starford/waymark/internal/storage"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName checks that name can be used as a workspace document name.
func ValidateName(name string) error {
	if err := validation.Validate(name, validation.Required, validation.Match(namePattern)); err != nil {
		return fmt.Errorf("%w: %q: %v", apperr.ErrInvalidWorkspace, name, err)
	}
	return nil
}

// Settings tune the controllers the service creates.
type Settings struct {
	Policy            placement.Policy
	MaxRebindDistance float64
	StatusDuration    time.Duration
	AsyncSave         bool
}

// Publisher receives live events.
type Publisher interface {
	Publish(event sse.Event)
}

type session struct {
	ctrl    *placement.Controller
	worker  *anchorstore.Worker
	written string // checksum of the last document this service persisted
	status  string
}

// Service coordinates controllers, storage and the index.
type Service struct {
	fs       storage.Provider
	db       index.WorkspaceIndex
	pub      Publisher
	logger   *slog.Logger
	settings Settings

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService creates a workspace service.
func NewService(fs storage.Provider, db index.WorkspaceIndex, opts ...Option) *Service {
	s := &Service{
		fs:       fs,
		db:       db,
		logger:   slog.Default(),
		settings: Settings{Policy: placement.PolicyPerReference},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) session(name string) (*session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[name]; ok {
		return sess, nil
	}

	logger := s.logger.With(slog.String("workspace", name))
	file := anchorstore.NewFileStore(s.fs, name+models.DocumentExt, logger)
	opts := []placement.Option{
		placement.WithLogger(logger),
		placement.WithPolicy(s.settings.Policy),
		placement.WithStatusDuration(s.settings.StatusDuration),
	}
	sess := &session{}
	var store placement.Store = file
	if s.settings.AsyncSave {
		sess.worker = anchorstore.NewWorker(file, logger)
		store = sess.worker
		opts = append(opts, placement.WithSaveFailures(sess.worker.Failures()))
	}
	sess.ctrl = placement.New(pose.Rigid{}, resolver.New(s.settings.MaxRebindDistance), store, opts...)
	s.sessions[name] = sess
	logger.Debug("workspace: session opened", slog.Bool("async_save", s.settings.AsyncSave))
	return sess, nil
}

// Tick forwards one frame of input to the workspace's controller and fans the
// result out to subscribers.
func (s *Service) Tick(ctx context.Context, name string, in placement.Input) (placement.Output, error) {
	sess, err := s.session(name)
	if err != nil {
		return placement.Output{}, err
	}
	out := sess.ctrl.Tick(ctx, in)

	var placedID string
	if out.Placed != nil {
		placedID = out.Placed.Record.ID
	}
	for _, sp := range out.Spawns {
		typ := sse.TypeAnchorSpawned
		if sp.RecordID == placedID {
			typ = sse.TypeAnchorPlaced
		}
		s.publish(sse.Event{Type: typ, Workspace: name, Data: SpawnModel(name, sp)})
	}
	s.publishStatus(name, sess, out.Status)

	if out.Placed != nil {
		s.reindex(ctx, name, sess)
	}
	return out, nil
}

// Document returns the current in-memory document of a workspace.
func (s *Service) Document(ctx context.Context, name string) (anchorstore.Document, error) {
	sess, err := s.session(name)
	if err != nil {
		return anchorstore.Document{}, err
	}
	return sess.ctrl.Document(ctx)
}

// ClearGroup removes one reference group from a workspace.
func (s *Service) ClearGroup(ctx context.Context, name, groupID string) error {
	sess, err := s.session(name)
	if err != nil {
		return err
	}
	if err := sess.ctrl.ClearGroup(ctx, groupID); err != nil {
		return err
	}
	s.reindex(ctx, name, sess)
	s.publishStatus(name, sess, sess.ctrl.Status())
	return nil
}

// ClearAll removes every group from a workspace.
func (s *Service) ClearAll(ctx context.Context, name string) error {
	sess, err := s.session(name)
	if err != nil {
		return err
	}
	if err := sess.ctrl.ClearAll(ctx); err != nil {
		return err
	}
	s.reindex(ctx, name, sess)
	s.publishStatus(name, sess, sess.ctrl.Status())
	return nil
}

// Import replaces a workspace's document with data in any supported shape.
// The document is rewritten in the canonical format. key files a
// single-record document under that image label and is ignored otherwise.
func (s *Service) Import(ctx context.Context, name string, data []byte, key string) (anchorstore.Document, error) {
	sess, err := s.session(name)
	if err != nil {
		return anchorstore.Document{}, err
	}
	doc, err := anchorstore.DecodeWithKey(data, key)
	if err != nil {
		return anchorstore.Document{}, fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
	}
	if err := sess.ctrl.Replace(ctx, doc); err != nil {
		return anchorstore.Document{}, err
	}
	s.reindex(ctx, name, sess)
	s.logger.Info("workspace: document imported",
		slog.String("workspace", name),
		slog.Int("groups", len(doc.Groups)),
		slog.Int("records", doc.RecordCount()))
	return doc, nil
}

// List returns the indexed workspaces.
func (s *Service) List(_ context.Context) ([]models.WorkspaceSummary, error) {
	return s.db.ListWorkspaces()
}

// Groups returns the indexed groups of a workspace.
func (s *Service) Groups(_ context.Context, name string) ([]models.GroupSummary, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return s.db.ListGroups(name)
}

// SearchKeys finds reference keys across all workspaces.
func (s *Service) SearchKeys(_ context.Context, query string, limit int) ([]index.KeyHit, error) {
	return s.db.SearchKeys(query, limit)
}

// HandleExternalChange reloads an open workspace after its document changed
// on disk behind the service's back. Changes the service wrote itself are
// recognised by checksum and ignored. Deletions keep the in-memory document,
// which the next save writes back.
func (s *Service) HandleExternalChange(ctx context.Context, kind, name string) {
	if kind == "deleted" {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	data, err := s.fs.Read(name + models.DocumentExt)
	if err != nil {
		return
	}
	if storage.Checksum(data) == s.written(sess) {
		return
	}
	if err := sess.ctrl.Reload(ctx); err != nil {
		s.logger.Warn("workspace: reload failed", slog.String("workspace", name), slog.String("error", err.Error()))
		return
	}
	s.logger.Info("workspace: reloaded after external change", slog.String("workspace", name))
}

// Close flushes and stops background writers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if w := s.sessions[name].worker; w != nil {
			w.Close()
		}
	}
}

// reindex refreshes the catalogue from the in-memory document. The encoded
// bytes are exactly what the store writes, so the watcher sees a matching
// checksum and stays quiet.
func (s *Service) reindex(ctx context.Context, name string, sess *session) {
	doc, err := sess.ctrl.Document(ctx)
	if err != nil {
		return
	}
	data, err := anchorstore.Encode(doc)
	if err != nil {
		s.logger.Warn("workspace: encode for index failed", slog.String("workspace", name), slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	sess.written = storage.Checksum(data)
	s.mu.Unlock()
	if err := index.IndexDocument(s.db, name, data); err != nil {
		s.logger.Warn("workspace: index failed", slog.String("workspace", name), slog.String("error", err.Error()))
		return
	}
	s.publish(sse.Event{Type: sse.TypeWorkspaceUpdated, Workspace: name, Data: map[string]string{"workspace": name}})
}

func (s *Service) written(sess *session) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.written
}

func (s *Service) publishStatus(name string, sess *session, msg string) {
	s.mu.Lock()
	changed := msg != sess.status
	sess.status = msg
	s.mu.Unlock()
	if !changed || msg == "" {
		return
	}
	s.publish(sse.Event{Type: sse.TypeStatus, Workspace: name, Data: map[string]string{"message": msg}})
}

func (s *Service) publish(ev sse.Event) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

// SpawnModel converts a spawn event to its wire form.
func SpawnModel(name string, sp placement.SpawnEvent) models.Spawn {
	return models.Spawn{
		Workspace:         name,
		GroupID:           sp.GroupID,
		RecordID:          sp.RecordID,
		ParentReferenceID: sp.ParentReferenceID,
		Tag:               sp.Tag,
		Pose:              models.FromPose(sp.Pose),
	}
}

// IsClientError reports whether err stems from bad input rather than a fault.
func IsClientError(err error) bool {
	return errors.Is(err, apperr.ErrInvalidWorkspace) ||
		errors.Is(err, apperr.ErrInvalidDocument) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrNoTrackingData) ||
		errors.Is(err, apperr.ErrReferenceLocked) ||
		errors.Is(err, apperr.ErrNoPersistableKey)
}
