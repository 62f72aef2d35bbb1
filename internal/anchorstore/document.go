// Package anchorstore persists placement records grouped by the reference
// they were placed against.
//
// A workspace document is the single source of truth: objects shown in the
// scene are a projection of it. Records are immutable once written; new
// placements append, and clearing removes whole groups.
package anchorstore

import (
	"errors"
	"fmt"
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/waymark/internal/apperr"
	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/tracking"
)

// unitTolerance bounds how far a stored quaternion's norm may drift from 1.
const unitTolerance = 1e-3

// PlacementRecord is one placed object, expressed relative to its group's
// reference at save time.
type PlacementRecord struct {
	ID       string
	Relative pose.Pose
	Tag      string
}

// NewRecord returns a record with a fresh id.
func NewRecord(relative pose.Pose, tag string) PlacementRecord {
	return PlacementRecord{ID: uuid.NewString(), Relative: relative, Tag: tag}
}

// ReferenceGroup is the persisted unit: the records placed against one
// reference.
//
// Image groups are keyed by the marker label. Plane groups have no key;
// Origin holds the plane's world pose when the group was created and is the
// target for nearest-position rebinding.
type ReferenceGroup struct {
	ID      string
	Key     string
	Kind    tracking.Kind
	Origin  *pose.Pose
	Records []PlacementRecord
}

// Keyed reports whether the group carries a cross-session key.
func (g ReferenceGroup) Keyed() bool { return g.Key != "" }

// Document is the full persisted state of a workspace.
type Document struct {
	Groups []ReferenceGroup
}

// Clone returns a deep copy that shares no slices with d.
func (d Document) Clone() Document {
	if d.Groups == nil {
		return Document{}
	}
	out := Document{Groups: make([]ReferenceGroup, len(d.Groups))}
	for i, g := range d.Groups {
		cp := g
		if g.Origin != nil {
			o := *g.Origin
			cp.Origin = &o
		}
		cp.Records = append([]PlacementRecord(nil), g.Records...)
		out.Groups[i] = cp
	}
	return out
}

// IsEmpty reports whether the document holds no groups.
func (d Document) IsEmpty() bool { return len(d.Groups) == 0 }

// RecordCount returns the number of records across all groups.
func (d Document) RecordCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Records)
	}
	return n
}

// Group returns the group with the given id.
func (d Document) Group(id string) (ReferenceGroup, bool) {
	for _, g := range d.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return ReferenceGroup{}, false
}

// GroupByKey returns the keyed group for key.
func (d Document) GroupByKey(key string) (ReferenceGroup, bool) {
	if key == "" {
		return ReferenceGroup{}, false
	}
	for _, g := range d.Groups {
		if g.Key == key {
			return g, true
		}
	}
	return ReferenceGroup{}, false
}

// KeylessGroups returns the groups of kind that carry no key, in document order.
func (d Document) KeylessGroups(kind tracking.Kind) []ReferenceGroup {
	var out []ReferenceGroup
	for _, g := range d.Groups {
		if !g.Keyed() && g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}

// AddGroup appends a new empty group and returns it. Keys must be unique.
func (d *Document) AddGroup(key string, kind tracking.Kind, origin *pose.Pose) (ReferenceGroup, error) {
	if _, exists := d.GroupByKey(key); exists {
		return ReferenceGroup{}, fmt.Errorf("anchorstore: duplicate key %q", key)
	}
	g := ReferenceGroup{ID: uuid.NewString(), Key: key, Kind: kind}
	if origin != nil {
		o := *origin
		g.Origin = &o
	}
	d.Groups = append(d.Groups, g)
	return g, nil
}

// AppendRecord adds rec to the group with the given id.
func (d *Document) AppendRecord(groupID string, rec PlacementRecord) error {
	for i := range d.Groups {
		if d.Groups[i].ID == groupID {
			// Copy so earlier snapshots never observe the new record.
			recs := make([]PlacementRecord, len(d.Groups[i].Records), len(d.Groups[i].Records)+1)
			copy(recs, d.Groups[i].Records)
			d.Groups[i].Records = append(recs, rec)
			return nil
		}
	}
	return fmt.Errorf("anchorstore: group %s: %w", groupID, apperr.ErrNotFound)
}

// RemoveGroup deletes the group with the given id.
func (d *Document) RemoveGroup(id string) bool {
	for i, g := range d.Groups {
		if g.ID == id {
			groups := make([]ReferenceGroup, 0, len(d.Groups)-1)
			groups = append(groups, d.Groups[:i]...)
			d.Groups = append(groups, d.Groups[i+1:]...)
			return true
		}
	}
	return false
}

// Validate checks structural invariants: unique group ids and keys, keys only
// on image groups, and finite unit-quaternion poses.
func (d Document) Validate() error {
	ids := make(map[string]struct{}, len(d.Groups))
	keys := make(map[string]struct{}, len(d.Groups))
	for i := range d.Groups {
		g := &d.Groups[i]
		err := validation.ValidateStruct(g,
			validation.Field(&g.ID, validation.Required),
			validation.Field(&g.Kind, validation.In(tracking.KindPlane, tracking.KindImage)),
			validation.Field(&g.Key, validation.When(g.Kind == tracking.KindImage, validation.Required)),
			validation.Field(&g.Origin, validation.By(validOrigin)),
			validation.Field(&g.Records, validation.Each(validation.By(validRecord))),
		)
		if err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
		if _, dup := ids[g.ID]; dup {
			return fmt.Errorf("group %d: duplicate id %q", i, g.ID)
		}
		ids[g.ID] = struct{}{}
		if g.Key != "" {
			if _, dup := keys[g.Key]; dup {
				return fmt.Errorf("group %d: duplicate key %q", i, g.Key)
			}
			keys[g.Key] = struct{}{}
		}
	}
	return nil
}

func validOrigin(value any) error {
	p, _ := value.(*pose.Pose)
	if p == nil {
		return nil
	}
	return validPose(*p)
}

func validRecord(value any) error {
	rec, ok := value.(PlacementRecord)
	if !ok {
		return errors.New("not a placement record")
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	return validPose(rec.Relative)
}

func validPose(p pose.Pose) error {
	if !p.IsFinite() {
		return errors.New("pose has non-finite components")
	}
	if math.Abs(p.Rotation.Len()-1) > unitTolerance {
		return fmt.Errorf("rotation is not a unit quaternion (norm %.6f)", p.Rotation.Len())
	}
	return nil
}
