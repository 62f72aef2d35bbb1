// Package tracking models the reference frames reported by the external
// tracking collaborator and the per-tick updates that carry them.
package tracking

import (
	"fmt"
	"strings"

	"github.com/starford/waymark/internal/pose"
)

// Kind distinguishes detected surfaces from recognized marker images.
type Kind int

const (
	KindPlane Kind = iota
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPlane:
		return "plane"
	case KindImage:
		return "image"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "plane", "":
		return KindPlane, nil
	case "image":
		return KindImage, nil
	}
	return 0, fmt.Errorf("tracking: unknown kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// State is the tracking quality of a frame.
type State int

const (
	NotTracking State = iota
	Limited
	Tracking
)

func (s State) String() string {
	switch s {
	case Tracking:
		return "tracking"
	case Limited:
		return "limited"
	default:
		return "not_tracking"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "tracking":
		*s = Tracking
	case "limited":
		*s = Limited
	case "not_tracking", "none", "":
		*s = NotTracking
	default:
		return fmt.Errorf("tracking: unknown state %q", b)
	}
	return nil
}

// ReferenceFrame is a live tracked plane or marker image.
//
// ID is stable only for the current session. Label is the recognized marker's
// name and is the only identity that survives across sessions; planes have none.
type ReferenceFrame struct {
	ID    string
	Kind  Kind
	State State
	Pose  pose.Pose
	Label string
}

// IsTracking reports whether the frame may be used for placement or resolution.
func (f ReferenceFrame) IsTracking() bool {
	return f.State == Tracking
}

// PersistableKey returns the cross-session key of the frame, if it has one.
func (f ReferenceFrame) PersistableKey() (string, bool) {
	if f.Kind == KindImage && f.Label != "" {
		return f.Label, true
	}
	return "", false
}

// Update is the batch of tracking changes delivered once per tick.
type Update struct {
	Added   []ReferenceFrame
	Updated []ReferenceFrame
	Removed []string
}

// Empty reports whether the update carries no changes.
func (u Update) Empty() bool {
	return len(u.Added) == 0 && len(u.Updated) == 0 && len(u.Removed) == 0
}
