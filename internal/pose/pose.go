// Package pose converts between world-space poses and poses expressed in the
// local coordinate space of a tracked reference.
package pose

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Pose is a rigid transform: a position and a unit-quaternion orientation.
// Callers are responsible for keeping Rotation normalized.
type Pose struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Identity returns the pose at the origin with no rotation.
func Identity() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

// New builds a pose from a position and an (x, y, z, w) quaternion.
func New(position mgl64.Vec3, x, y, z, w float64) Pose {
	return Pose{Position: position, Rotation: mgl64.Quat{W: w, V: mgl64.Vec3{x, y, z}}}
}

// Converter maps poses between world space and reference space.
type Converter interface {
	ToRelative(reference, world Pose) Pose
	ToWorld(reference, relative Pose) Pose
}

// Rigid is the stateless Converter used in production.
type Rigid struct{}

var _ Converter = Rigid{}

// ToRelative expresses world in the coordinate space of reference.
func (Rigid) ToRelative(reference, world Pose) Pose {
	return ToRelative(reference, world)
}

// ToWorld reverses ToRelative.
func (Rigid) ToWorld(reference, relative Pose) Pose {
	return ToWorld(reference, relative)
}

// ToRelative returns the pose of world as seen from reference:
// position = inverse(ref.rot) * (world.pos - ref.pos),
// rotation = inverse(ref.rot) * world.rot.
func ToRelative(reference, world Pose) Pose {
	inv := reference.Rotation.Inverse()
	return Pose{
		Position: inv.Rotate(world.Position.Sub(reference.Position)),
		Rotation: inv.Mul(world.Rotation),
	}
}

// ToWorld places a reference-relative pose back into world space.
func ToWorld(reference, relative Pose) Pose {
	return Pose{
		Position: reference.Position.Add(reference.Rotation.Rotate(relative.Position)),
		Rotation: reference.Rotation.Mul(relative.Rotation),
	}
}

// Distance is the Euclidean distance between two positions.
func Distance(a, b mgl64.Vec3) float64 {
	return a.Sub(b).Len()
}

// AngleBetween returns the rotation angle, in radians, that takes a onto b.
// q and -q describe the same orientation and yield zero.
func AngleBetween(a, b mgl64.Quat) float64 {
	d := math.Abs(a.Dot(b))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// ApproxEqual reports whether two poses agree within the given position and
// angle tolerances.
func ApproxEqual(a, b Pose, posTol, angleTol float64) bool {
	return Distance(a.Position, b.Position) < posTol && AngleBetween(a.Rotation, b.Rotation) < angleTol
}

// IsFinite reports whether every component of p is a finite number.
func (p Pose) IsFinite() bool {
	for _, v := range []float64{
		p.Position[0], p.Position[1], p.Position[2],
		p.Rotation.W, p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2],
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
