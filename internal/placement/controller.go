// Package placement drives the place / save / restore workflow for anchored
// objects.
//
// The Controller is fed explicitly by its owner once per tick: tracking
// changes and the current placement input go in, spawn events, the preview
// pose and the status message come out. It never subscribes to anything and
// never looks up ambient state; its converter, resolver and store are
// injected at construction.
//
// Every public method holds the controller lock for its full duration, so
// concurrent placement events are processed one at a time: compute, persist,
// acknowledge.
package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/waymark/internal/anchorstore"
	"github.com/starford/waymark/internal/apperr"
	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/resolver"
	"github.com/starford/waymark/internal/status"
	"github.com/starford/waymark/internal/tracking"
)

// Store is the persistence dependency of the controller.
type Store interface {
	Load(ctx context.Context) (anchorstore.Document, error)
	Save(ctx context.Context, doc anchorstore.Document) error
}

// Resolver picks the live frame a persisted key should reattach to.
type Resolver interface {
	Resolve(key resolver.Key, frames []tracking.ReferenceFrame) resolver.Result
}

// SpawnEvent asks the caller to instantiate an object at Pose and, where
// supported, parent it to the live reference so it keeps tracking.
type SpawnEvent struct {
	Pose              pose.Pose
	ParentReferenceID string
	GroupID           string
	RecordID          string
	Tag               string
}

// Placement is the outcome of a committed placement.
type Placement struct {
	Record  anchorstore.PlacementRecord
	GroupID string
	Spawn   SpawnEvent
	// Restored holds objects restored because the hit reference was seen
	// for the first time by this placement.
	Restored []SpawnEvent
}

// Controller owns the in-memory document of one workspace and the session
// state that binds live frames to persisted groups.
type Controller struct {
	conv     pose.Converter
	res      Resolver
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	policy   Policy
	failures <-chan error

	mu       sync.Mutex
	doc      anchorstore.Document
	loaded   bool
	frames   *tracking.Set
	resolved map[string]struct{} // frame ids already processed this session
	bindings map[string]string   // frame id → group id
	bound    map[string]string   // group id → frame id
	locked   string              // frame id under the single-lock policy
	state    State
	preview  *pose.Pose
	board    status.Board
}

// New returns a controller. The document is loaded lazily on first use, or
// eagerly with Load.
func New(conv pose.Converter, res Resolver, store Store, opts ...Option) *Controller {
	c := &Controller{
		conv:     conv,
		res:      res,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		policy:   PolicyPerReference,
		frames:   tracking.NewSet(),
		resolved: make(map[string]struct{}),
		bindings: make(map[string]string),
		bound:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the document from the store if it has not been read yet.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLoaded(ctx)
}

// Reload replaces the in-memory document with the stored one. A failed read
// keeps the current document. Bindings to groups that no longer exist are
// dropped.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("placement: reload failed, keeping current document", slog.String("error", err.Error()))
		return err
	}
	c.doc = doc
	c.loaded = true
	for gid, fid := range c.bound {
		if _, ok := doc.Group(gid); !ok {
			c.unbindGroup(gid, fid)
		}
	}
	return nil
}

func (c *Controller) ensureLoaded(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	doc, err := c.store.Load(ctx)
	if err != nil {
		var derr *anchorstore.DeserializationError
		if !errors.As(err, &derr) {
			return fmt.Errorf("placement: load: %w", err)
		}
		c.logger.Warn("placement: saved anchors unreadable, starting empty", slog.String("error", err.Error()))
		c.board.Set(c.now(), "Saved anchors could not be read; starting with none.")
		doc = anchorstore.Document{}
	}
	c.doc = doc
	c.loaded = true
	c.logger.Debug("placement: document loaded",
		slog.Int("groups", len(doc.Groups)),
		slog.Int("records", doc.RecordCount()))
	return nil
}

// Document returns a copy of the current document.
func (c *Controller) Document(ctx context.Context) (anchorstore.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return anchorstore.Document{}, err
	}
	return c.doc.Clone(), nil
}

// OnReferenceAcquired restores the records persisted for frame, once per
// frame identity per session. A frame with nothing persisted yields no events.
func (c *Controller) OnReferenceAcquired(ctx context.Context, frame tracking.ReferenceFrame) []SpawnEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.Put(frame)
	return c.acquire(ctx, frame)
}

// OnReferenceUpdated refreshes the live pose of frame and restores its
// records if it has just reached the Tracking state.
func (c *Controller) OnReferenceUpdated(ctx context.Context, frame tracking.ReferenceFrame) []SpawnEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.Put(frame)
	return c.acquire(ctx, frame)
}

// OnReferenceRemoved forgets a frame. Objects parented to it go with it, so a
// later frame for the same marker restores them again.
func (c *Controller) OnReferenceRemoved(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeFrame(id)
}

func (c *Controller) removeFrame(id string) {
	c.frames.Remove(id)
	delete(c.resolved, id)
	if gid, ok := c.bindings[id]; ok {
		c.unbindGroup(gid, id)
	}
}

func (c *Controller) acquire(ctx context.Context, frame tracking.ReferenceFrame) []SpawnEvent {
	if !frame.IsTracking() {
		return nil
	}
	if _, seen := c.resolved[frame.ID]; seen {
		return nil
	}
	if c.lockedOut(frame) {
		return nil
	}
	if err := c.ensureLoaded(ctx); err != nil {
		c.logger.Error("placement: cannot restore anchors", slog.String("frame", frame.ID), slog.String("error", err.Error()))
		return nil
	}

	c.resolved[frame.ID] = struct{}{}
	if c.takesLock(frame) {
		c.locked = frame.ID
		c.logger.Info("placement: locked to reference", slog.String("frame", frame.ID), slog.String("label", frame.Label))
		c.board.Set(c.now(), "Reference tracked: "+frameName(frame))
	}

	var spawns []SpawnEvent
	live := c.frames.Frames()
	if key, ok := frame.PersistableKey(); ok {
		g, found := c.doc.GroupByKey(key)
		if !found || c.isBound(g.ID) {
			return nil
		}
		res := c.res.Resolve(resolver.ByLabel(key), live)
		if !res.Resolved || res.Frame.ID != frame.ID {
			return nil
		}
		spawns = c.restore(g, frame)
		if len(spawns) > 0 {
			c.board.Set(c.now(), fmt.Sprintf("Loaded %d anchor(s) for %s.", len(spawns), key))
		}
	} else if frame.Kind == tracking.KindPlane {
		for _, g := range c.doc.KeylessGroups(tracking.KindPlane) {
			if c.isBound(g.ID) {
				continue
			}
			target := pose.Identity()
			if g.Origin != nil {
				target = *g.Origin
			}
			res := c.res.Resolve(resolver.ByPosition(tracking.KindPlane, target.Position), live)
			if !res.Resolved || res.Frame.ID != frame.ID {
				continue
			}
			spawns = append(spawns, c.restore(g, frame)...)
		}
		if len(spawns) > 0 {
			c.board.Set(c.now(), fmt.Sprintf("Restored %d anchor(s) on the nearest plane (approximate match).", len(spawns)))
		}
	}

	if len(spawns) > 0 {
		c.logger.Info("placement: anchors restored",
			slog.String("frame", frame.ID),
			slog.String("kind", frame.Kind.String()),
			slog.Int("count", len(spawns)))
	}
	return spawns
}

// restore binds g to frame and reconstructs world poses for its records.
// Only the first group bound to a frame is used for new placements.
func (c *Controller) restore(g anchorstore.ReferenceGroup, frame tracking.ReferenceFrame) []SpawnEvent {
	c.bound[g.ID] = frame.ID
	if _, ok := c.bindings[frame.ID]; !ok {
		c.bindings[frame.ID] = g.ID
	}
	ref := referencePose(g, frame)
	out := make([]SpawnEvent, 0, len(g.Records))
	for _, rec := range g.Records {
		out = append(out, SpawnEvent{
			Pose:              c.conv.ToWorld(ref, rec.Relative),
			ParentReferenceID: frame.ID,
			GroupID:           g.ID,
			RecordID:          rec.ID,
			Tag:               rec.Tag,
		})
	}
	return out
}

// referencePose is the pose records of g are relative to. A keyless group
// keeps its saved origin: the nearest live plane only becomes the parent, so
// restored objects stay where they were placed instead of moving with
// whichever plane happened to be closest.
func referencePose(g anchorstore.ReferenceGroup, frame tracking.ReferenceFrame) pose.Pose {
	if !g.Keyed() && g.Origin != nil {
		return *g.Origin
	}
	return frame.Pose
}

// lockedOut reports whether the single-lock policy excludes frame. Only
// image references take part in the lock; planes are never locked out.
func (c *Controller) lockedOut(frame tracking.ReferenceFrame) bool {
	return c.policy == PolicySingleLock && frame.Kind == tracking.KindImage &&
		c.locked != "" && c.locked != frame.ID
}

func (c *Controller) takesLock(frame tracking.ReferenceFrame) bool {
	return c.policy == PolicySingleLock && frame.Kind == tracking.KindImage && c.locked == ""
}

func (c *Controller) isBound(groupID string) bool {
	_, ok := c.bound[groupID]
	return ok
}

func (c *Controller) unbindGroup(groupID, frameID string) {
	delete(c.bound, groupID)
	if c.bindings[frameID] == groupID {
		delete(c.bindings, frameID)
	}
}

// OnPlacementAttempt commits an object placed at hit against frame. The
// record is appended to the frame's group and the document is saved before
// the placement is acknowledged.
//
// A write failure keeps the in-memory document and returns the Placement
// together with an error wrapping apperr.ErrWriteFailure.
func (c *Controller) OnPlacementAttempt(ctx context.Context, frame tracking.ReferenceFrame, hit pose.Pose, tag string) (Placement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if frame.IsTracking() {
		c.frames.Put(frame)
	}
	return c.place(ctx, frame, hit, tag)
}

func (c *Controller) place(ctx context.Context, frame tracking.ReferenceFrame, hit pose.Pose, tag string) (Placement, error) {
	now := c.now()
	if !frame.IsTracking() {
		c.board.Set(now, "Cannot place: reference is not tracking.")
		return Placement{}, fmt.Errorf("placement: frame %s is %s: %w", frame.ID, frame.State, apperr.ErrNoTrackingData)
	}
	if c.lockedOut(frame) {
		c.board.Set(now, "Cannot place: locked to another reference.")
		return Placement{}, fmt.Errorf("placement: frame %s: %w", frame.ID, apperr.ErrReferenceLocked)
	}
	if err := c.ensureLoaded(ctx); err != nil {
		c.board.Set(now, "Cannot place: saved anchors unavailable.")
		return Placement{}, err
	}

	var result Placement
	result.Restored = c.acquire(ctx, frame)

	groupID, err := c.groupFor(frame)
	if err != nil {
		c.board.Set(now, "Cannot place: reference has no name to save under.")
		return Placement{}, err
	}

	g, _ := c.doc.Group(groupID)
	rec := anchorstore.NewRecord(c.conv.ToRelative(referencePose(g, frame), hit), tag)
	if err := c.doc.AppendRecord(groupID, rec); err != nil {
		return Placement{}, fmt.Errorf("placement: %w", err)
	}
	if c.takesLock(frame) {
		c.locked = frame.ID
	}

	result.Record = rec
	result.GroupID = groupID
	result.Spawn = SpawnEvent{
		Pose:              hit,
		ParentReferenceID: frame.ID,
		GroupID:           groupID,
		RecordID:          rec.ID,
		Tag:               tag,
	}
	c.state = Placed
	c.preview = nil

	if err := c.store.Save(ctx, c.doc.Clone()); err != nil {
		if !errors.Is(err, apperr.ErrWriteFailure) {
			err = fmt.Errorf("%w: %v", apperr.ErrWriteFailure, err)
		}
		c.logger.Error("placement: save failed", slog.String("frame", frame.ID), slog.String("error", err.Error()))
		c.board.Set(now, "Save failed: "+err.Error())
		return result, fmt.Errorf("placement: save: %w", err)
	}

	c.logger.Info("placement: anchor saved",
		slog.String("frame", frame.ID),
		slog.String("group", groupID),
		slog.String("record", rec.ID))
	if frame.Kind == tracking.KindPlane {
		c.board.Set(now, "Anchor saved. Planes are matched by nearest position when reloaded.")
	} else {
		c.board.Set(now, "Anchor saved.")
	}
	return result, nil
}

// groupFor returns the group new records against frame belong to, creating
// it when needed.
func (c *Controller) groupFor(frame tracking.ReferenceFrame) (string, error) {
	if gid, ok := c.bindings[frame.ID]; ok {
		if _, exists := c.doc.Group(gid); exists {
			return gid, nil
		}
		c.unbindGroup(gid, frame.ID)
	}

	var (
		g   anchorstore.ReferenceGroup
		err error
	)
	switch frame.Kind {
	case tracking.KindImage:
		key, ok := frame.PersistableKey()
		if !ok {
			return "", fmt.Errorf("placement: image frame %s: %w", frame.ID, apperr.ErrNoPersistableKey)
		}
		existing, found := c.doc.GroupByKey(key)
		if found {
			g = existing
		} else if g, err = c.doc.AddGroup(key, tracking.KindImage, nil); err != nil {
			return "", fmt.Errorf("placement: %w", err)
		}
	default:
		origin := frame.Pose
		if g, err = c.doc.AddGroup("", tracking.KindPlane, &origin); err != nil {
			return "", fmt.Errorf("placement: %w", err)
		}
	}
	c.bound[g.ID] = frame.ID
	c.bindings[frame.ID] = g.ID
	return g.ID, nil
}

// ClearGroup deletes one group and persists the result.
func (c *Controller) ClearGroup(ctx context.Context, groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	if !c.doc.RemoveGroup(groupID) {
		return fmt.Errorf("placement: group %s: %w", groupID, apperr.ErrNotFound)
	}
	if fid, ok := c.bound[groupID]; ok {
		c.unbindGroup(groupID, fid)
	}
	return c.saveLocked(ctx, "Anchors cleared.")
}

// ClearAll deletes every group and persists the empty document.
func (c *Controller) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	c.doc = anchorstore.Document{}
	c.bindings = make(map[string]string)
	c.bound = make(map[string]string)
	return c.saveLocked(ctx, "All anchors cleared.")
}

func (c *Controller) saveLocked(ctx context.Context, okMessage string) error {
	if err := c.store.Save(ctx, c.doc.Clone()); err != nil {
		if !errors.Is(err, apperr.ErrWriteFailure) {
			err = fmt.Errorf("%w: %v", apperr.ErrWriteFailure, err)
		}
		c.board.Set(c.now(), "Save failed: "+err.Error())
		return fmt.Errorf("placement: save: %w", err)
	}
	c.board.Set(c.now(), okMessage)
	return nil
}

// Replace swaps in doc and persists it. Bindings to groups that no longer
// exist are dropped.
func (c *Controller) Replace(ctx context.Context, doc anchorstore.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc.Clone()
	c.loaded = true
	for gid, fid := range c.bound {
		if _, ok := c.doc.Group(gid); !ok {
			c.unbindGroup(gid, fid)
		}
	}
	return c.saveLocked(ctx, "Anchors imported.")
}

// Locked returns the frame id the single-lock policy has locked onto.
func (c *Controller) Locked() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Status returns the current status message, clearing it if expired.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Tick(c.now())
}

func frameName(f tracking.ReferenceFrame) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}
