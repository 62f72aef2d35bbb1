package api

import (
	"errors"
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/starford/waymark/internal/index"
	"github.com/starford/waymark/internal/models"
	"github.com/starford/waymark/internal/placement"
	"github.com/starford/waymark/internal/tracking"
	"github.com/starford/waymark/internal/workspace"
)

// FrameDTO is one tracked reference frame as reported by a client.
type FrameDTO struct {
	ID    string         `json:"id" example:"img-1" validate:"required"`
	Kind  tracking.Kind  `json:"kind" example:"image"`
	State tracking.State `json:"state" example:"tracking"`
	Label string         `json:"label,omitempty" example:"poster"`
	Pose  models.Pose    `json:"pose" validate:"required"`
}

// Validate implements validation.Validatable.
func (f FrameDTO) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.Pose, validation.By(finitePose)),
	)
}

func (f FrameDTO) frame() tracking.ReferenceFrame {
	return tracking.ReferenceFrame{ID: f.ID, Kind: f.Kind, State: f.State, Label: f.Label, Pose: f.Pose.ToPose()}
}

// HitDTO is a surface hit from the client's ray cast.
type HitDTO struct {
	FrameID string      `json:"frame_id" example:"plane-3" validate:"required"`
	Pose    models.Pose `json:"pose" validate:"required"`
}

// PlacementDTO is the user's placement intent for one tick.
type PlacementDTO struct {
	ScreenPoint   [2]float64 `json:"screen_point"`
	Hit           *HitDTO    `json:"hit,omitempty"`
	BeginPreview  bool       `json:"begin_preview,omitempty"`
	CancelPreview bool       `json:"cancel_preview,omitempty"`
	Place         bool       `json:"place,omitempty"`
	Tag           string     `json:"tag,omitempty" example:"lamp"`
}

// TickRequest is the request body for POST /workspaces/{workspace}/tick.
type TickRequest struct {
	Added     []FrameDTO    `json:"added,omitempty"`
	Updated   []FrameDTO    `json:"updated,omitempty"`
	Removed   []string      `json:"removed,omitempty"`
	Placement *PlacementDTO `json:"placement,omitempty"`
}

// Validate implements validation.Validatable.
func (t TickRequest) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Added),
		validation.Field(&t.Updated),
		validation.Field(&t.Removed, validation.Each(validation.Required)),
		validation.Field(&t.Placement, validation.By(validPlacement)),
	)
}

func (t TickRequest) input() placement.Input {
	in := placement.Input{Tracking: tracking.Update{Removed: t.Removed}}
	for _, f := range t.Added {
		in.Tracking.Added = append(in.Tracking.Added, f.frame())
	}
	for _, f := range t.Updated {
		in.Tracking.Updated = append(in.Tracking.Updated, f.frame())
	}
	if p := t.Placement; p != nil {
		in.Placement = &placement.PlacementInput{
			ScreenPoint:    mgl64.Vec2{p.ScreenPoint[0], p.ScreenPoint[1]},
			BeginPreview:   p.BeginPreview,
			CancelPreview:  p.CancelPreview,
			WantsPlacement: p.Place,
			Tag:            p.Tag,
		}
		if p.Hit != nil {
			in.Placement.Hit = &placement.Hit{FrameID: p.Hit.FrameID, Pose: p.Hit.Pose.ToPose()}
		}
	}
	return in
}

// TickResponse is everything one tick produced.
type TickResponse struct {
	Spawns  []models.Spawn  `json:"spawns"`
	Placed  *models.Spawn   `json:"placed,omitempty"`
	Preview *models.Pose    `json:"preview,omitempty"`
	State   placement.State `json:"state" example:"idle"`
	Status  string          `json:"status,omitempty" example:"Anchor saved."`
	// Error reports a rejected or unsaved placement; the tick itself succeeded.
	Error string `json:"error,omitempty"`
}

func tickResponse(name string, out placement.Output) TickResponse {
	resp := TickResponse{
		Spawns: make([]models.Spawn, 0, len(out.Spawns)),
		State:  out.State,
		Status: out.Status,
	}
	for _, sp := range out.Spawns {
		resp.Spawns = append(resp.Spawns, workspace.SpawnModel(name, sp))
	}
	if out.Placed != nil {
		sp := workspace.SpawnModel(name, out.Placed.Spawn)
		resp.Placed = &sp
	}
	if out.Preview != nil {
		p := models.FromPose(*out.Preview)
		resp.Preview = &p
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

// WorkspaceListResponse wraps workspace listings.
type WorkspaceListResponse struct {
	Workspaces []models.WorkspaceSummary `json:"workspaces" validate:"required"`
}

// GroupListResponse wraps the groups of one workspace.
type GroupListResponse struct {
	Groups []models.GroupSummary `json:"groups" validate:"required"`
}

// KeySearchResponse wraps key search results.
type KeySearchResponse struct {
	Results []index.KeyHit `json:"results" validate:"required"`
}

func validPlacement(value any) error {
	p, _ := value.(*PlacementDTO)
	if p == nil || p.Hit == nil {
		return nil
	}
	if p.Hit.FrameID == "" {
		return errors.New("hit.frame_id is required")
	}
	return finitePose(p.Hit.Pose)
}

func finitePose(value any) error {
	p, ok := value.(models.Pose)
	if !ok {
		return errors.New("not a pose")
	}
	for _, v := range append(p.Position[:], p.Rotation[:]...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("pose has non-finite components")
		}
	}
	return nil
}
