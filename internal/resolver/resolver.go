// Package resolver matches persisted reference keys against the frames that
// are tracked right now.
//
// Images carry a label that survives restarts and are matched exactly. Planes
// have no stable identity, so they are rebound to the tracked plane closest to
// the position saved with their records. That is a best-effort approximation,
// not an identity match.
package resolver

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/tracking"
)

// Key identifies what to look for. Label wins when set; otherwise Position
// drives a nearest-match search among frames of Kind.
type Key struct {
	Label    string
	Kind     tracking.Kind
	Position *mgl64.Vec3
}

// ByLabel builds a key for an image label.
func ByLabel(label string) Key {
	return Key{Label: label, Kind: tracking.KindImage}
}

// ByPosition builds a nearest-match key for frames of the given kind.
func ByPosition(kind tracking.Kind, p mgl64.Vec3) Key {
	return Key{Kind: kind, Position: &p}
}

// Result is the outcome of a resolution. Resolved is false when nothing
// qualified; that is a normal outcome, not an error.
type Result struct {
	Frame    tracking.ReferenceFrame
	Distance float64
	Resolved bool
	// Approximate is set for nearest-position matches.
	Approximate bool
}

// Resolver picks the best live frame for a key.
type Resolver struct {
	// MaxDistance bounds nearest-position matches. Zero means unlimited.
	MaxDistance float64
}

// New returns a Resolver with the given nearest-match bound.
func New(maxDistance float64) *Resolver {
	return &Resolver{MaxDistance: maxDistance}
}

// Resolve dispatches on the key. Only frames in the Tracking state qualify.
func (r *Resolver) Resolve(key Key, frames []tracking.ReferenceFrame) Result {
	if key.Label != "" {
		return MatchLabel(key.Label, frames)
	}
	if key.Position == nil {
		return Result{}
	}
	res := Nearest(*key.Position, key.Kind, frames)
	if res.Resolved && r.MaxDistance > 0 && res.Distance > r.MaxDistance {
		return Result{}
	}
	return res
}

// MatchLabel returns the first tracking image whose label equals label.
// Duplicate labels resolve to whichever frame comes first in frames.
func MatchLabel(label string, frames []tracking.ReferenceFrame) Result {
	for _, f := range frames {
		if f.Kind == tracking.KindImage && f.IsTracking() && f.Label == label {
			return Result{Frame: f, Resolved: true}
		}
	}
	return Result{}
}

// Nearest scans the tracking frames of kind and returns the one whose world
// position is closest to target. Ties keep the first frame encountered.
func Nearest(target mgl64.Vec3, kind tracking.Kind, frames []tracking.ReferenceFrame) Result {
	best := Result{Distance: math.Inf(1)}
	for _, f := range frames {
		if f.Kind != kind || !f.IsTracking() {
			continue
		}
		d := pose.Distance(target, f.Pose.Position)
		if d < best.Distance {
			best = Result{Frame: f, Distance: d, Resolved: true, Approximate: true}
		}
	}
	if !best.Resolved {
		return Result{}
	}
	return best
}
