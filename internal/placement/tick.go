package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/starford/waymark/internal/apperr"
	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/tracking"
)

// State is the placement interaction state.
type State int

const (
	Idle State = iota
	Previewing
	// Placed lasts until the next tick, then falls back to Idle.
	Placed
)

func (s State) String() string {
	switch s {
	case Previewing:
		return "previewing"
	case Placed:
		return "placed"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "previewing":
		*s = Previewing
	case "placed":
		*s = Placed
	default:
		return fmt.Errorf("unknown placement state %q", b)
	}
	return nil
}

// Hit is a surface hit reported by the caller's ray cast.
type Hit struct {
	FrameID string
	Pose    pose.Pose
}

// PlacementInput is the user's placement intent for one tick.
type PlacementInput struct {
	ScreenPoint    mgl64.Vec2
	Hit            *Hit
	BeginPreview   bool
	CancelPreview  bool
	WantsPlacement bool
	Tag            string
}

// Input is everything the controller consumes in one tick.
type Input struct {
	Tracking  tracking.Update
	Placement *PlacementInput
}

// Output is everything the controller produces in one tick.
type Output struct {
	Spawns  []SpawnEvent
	Placed  *Placement
	Preview *pose.Pose
	State   State
	Status  string
	// Err is the placement failure of this tick, if any.
	Err error
}

// BeginPreview enters the preview state.
func (c *Controller) BeginPreview() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginPreview()
}

func (c *Controller) beginPreview() {
	if c.state != Previewing {
		c.state = Previewing
		c.preview = nil
	}
}

// UpdatePreview moves the preview to hit. It has no effect outside the
// preview state.
func (c *Controller) UpdatePreview(hit Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatePreview(hit)
}

func (c *Controller) updatePreview(hit Hit) {
	if c.state != Previewing {
		return
	}
	p := hit.Pose
	c.preview = &p
}

// CancelPreview returns to Idle without placing.
func (c *Controller) CancelPreview() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
	c.preview = nil
}

// State returns the interaction state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tick advances the controller by one frame. Tracking changes are folded into
// the live set before any restore runs, so nearest-plane matching sees every
// plane delivered in the same tick.
func (c *Controller) Tick(ctx context.Context, in Input) Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out Output
	if c.state == Placed {
		c.state = Idle
	}
	c.drainFailures()

	for _, id := range in.Tracking.Removed {
		c.removeFrame(id)
	}
	for _, f := range in.Tracking.Added {
		c.frames.Put(f)
	}
	for _, f := range in.Tracking.Updated {
		c.frames.Put(f)
	}
	for _, f := range in.Tracking.Added {
		out.Spawns = append(out.Spawns, c.acquireLive(ctx, f.ID)...)
	}
	for _, f := range in.Tracking.Updated {
		out.Spawns = append(out.Spawns, c.acquireLive(ctx, f.ID)...)
	}

	if p := in.Placement; p != nil {
		if p.CancelPreview {
			c.state = Idle
			c.preview = nil
		}
		if p.BeginPreview {
			c.beginPreview()
		}
		if p.Hit != nil {
			c.updatePreview(*p.Hit)
		}
		if p.WantsPlacement {
			placed, err := c.placeFromInput(ctx, p)
			if placed != nil {
				out.Spawns = append(out.Spawns, placed.Restored...)
				out.Spawns = append(out.Spawns, placed.Spawn)
				out.Placed = placed
			}
			out.Err = err
		}
	}

	out.State = c.state
	if c.preview != nil {
		p := *c.preview
		out.Preview = &p
	}
	out.Status = c.board.Tick(c.now())
	return out
}

// acquireLive restores against the latest copy of a frame, which may have
// been replaced by a later entry in the same update.
func (c *Controller) acquireLive(ctx context.Context, id string) []SpawnEvent {
	f, ok := c.frames.Get(id)
	if !ok {
		return nil
	}
	return c.acquire(ctx, f)
}

func (c *Controller) placeFromInput(ctx context.Context, p *PlacementInput) (*Placement, error) {
	if p.Hit == nil {
		c.board.Set(c.now(), "Nothing to place on here.")
		return nil, fmt.Errorf("placement: no hit: %w", apperr.ErrNoTrackingData)
	}
	frame, ok := c.frames.Get(p.Hit.FrameID)
	if !ok {
		c.board.Set(c.now(), "Cannot place: reference is not tracked.")
		return nil, fmt.Errorf("placement: frame %s: %w", p.Hit.FrameID, apperr.ErrNotFound)
	}
	placed, err := c.place(ctx, frame, p.Hit.Pose, p.Tag)
	if err != nil && !errors.Is(err, apperr.ErrWriteFailure) {
		return nil, err
	}
	return &placed, err
}

func (c *Controller) drainFailures() {
	if c.failures == nil {
		return
	}
	for {
		select {
		case err, ok := <-c.failures:
			if !ok {
				c.failures = nil
				return
			}
			c.logger.Error("placement: background save failed", slog.String("error", err.Error()))
			c.board.Set(c.now(), "Save failed: "+err.Error())
		default:
			return
		}
	}
}
