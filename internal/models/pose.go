package models

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/starford/waymark/internal/pose"
)

// Pose is the wire form of a pose: position [x,y,z] and rotation [x,y,z,w].
type Pose struct {
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"`
}

// FromPose converts a pose to its wire form.
func FromPose(p pose.Pose) Pose {
	return Pose{
		Position: [3]float64{p.Position[0], p.Position[1], p.Position[2]},
		Rotation: [4]float64{p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2], p.Rotation.W},
	}
}

// ToPose converts the wire form back, normalizing the rotation. A zero
// rotation becomes the identity.
func (p Pose) ToPose() pose.Pose {
	out := pose.New(mgl64.Vec3{p.Position[0], p.Position[1], p.Position[2]},
		p.Rotation[0], p.Rotation[1], p.Rotation[2], p.Rotation[3])
	out.Rotation = out.Rotation.Normalize()
	return out
}

// Spawn tells a client to instantiate an object.
type Spawn struct {
	Workspace         string `json:"workspace"`
	GroupID           string `json:"group_id"`
	RecordID          string `json:"record_id"`
	ParentReferenceID string `json:"parent_reference_id"`
	Tag               string `json:"tag,omitempty"`
	Pose              Pose   `json:"pose"`
}
