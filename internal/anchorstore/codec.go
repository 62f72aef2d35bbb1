package anchorstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/tracking"
)

// Canonical wire format. Field names are a compatibility contract.
//
//	{ "anchors": [ { "id": "...", "key": "poster", "kind": "image",
//	                 "records": [ { "id": "...", "position": [x,y,z], "rotation": [x,y,z,w] } ] } ] }
type wireDocument struct {
	Anchors []wireGroup `json:"anchors"`
}

type wireGroup struct {
	ID      string       `json:"id,omitempty"`
	Key     string       `json:"key,omitempty"`
	Kind    string       `json:"kind,omitempty"`
	Origin  *wirePose    `json:"origin,omitempty"`
	Records []wireRecord `json:"records"`
}

type wirePose struct {
	Position []float64 `json:"position"`
	Rotation []float64 `json:"rotation"`
}

type wireRecord struct {
	ID       string    `json:"id,omitempty"`
	Position []float64 `json:"position"`
	Rotation []float64 `json:"rotation"`
	Tag      string    `json:"tag,omitempty"`
}

// ErrNeedsKey is returned for a single-record document, which does not name
// the image it was placed against. Such a file can only be imported with an
// explicit key.
var ErrNeedsKey = errors.New("single-record document needs a reference key")

// Flat single-reference shape: { "positions": [[x,y,z] or {"x":..}, ...] }.
type legacyPositions struct {
	Positions []legacyPoint `json:"positions"`
}

// World-pose list written by the plane placement flow:
// { "anchors": [ { "position": {...}, "rotation": {...} } ] }.
type legacyWorldAnchors struct {
	Anchors []struct {
		Position legacyPoint     `json:"position"`
		Rotation *legacyRotation `json:"rotation"`
	} `json:"anchors"`
}

// Per-image annotation shape with object-style vectors:
// { "data": [ { "imageName": "...", "annotations": [ { "localPosition": {...}, "localRotation": {...} } ] } ] }
type legacyAnnotations struct {
	Data []struct {
		ImageName   string         `json:"imageName"`
		Annotations []legacyRecord `json:"annotations"`
	} `json:"data"`
}

// Single record relative to an unnamed image:
// { "localPosition": {...}, "localRotation": {...} }.
type legacyRecord struct {
	LocalPosition legacyPoint     `json:"localPosition"`
	LocalRotation *legacyRotation `json:"localRotation"`
}

func (r legacyRecord) pose() pose.Pose {
	return legacyPose(r.LocalPosition, r.LocalRotation)
}

func legacyPose(p legacyPoint, q *legacyRotation) pose.Pose {
	x, y, z, w := q.xyzw()
	return pose.New(mgl64.Vec3(p), x, y, z, w)
}

type legacyVec struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z float64  `json:"z"`
	W *float64 `json:"w,omitempty"`
}

// legacyPoint accepts [x, y, z] or {"x": .., "y": .., "z": ..}.
type legacyPoint mgl64.Vec3

func (p *legacyPoint) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("[")) {
		var arr []float64
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		if len(arr) != 3 {
			return fmt.Errorf("position needs 3 components, got %d", len(arr))
		}
		*p = legacyPoint{arr[0], arr[1], arr[2]}
		return nil
	}
	var v legacyVec
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = legacyPoint{v.X, v.Y, v.Z}
	return nil
}

// legacyRotation accepts [x, y, z, w] or {"x": .., "w": ..}. A missing w
// reads as 1.
type legacyRotation [4]float64

func (q *legacyRotation) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("[")) {
		var arr []float64
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		if len(arr) != 4 {
			return fmt.Errorf("rotation needs 4 components, got %d", len(arr))
		}
		*q = legacyRotation{arr[0], arr[1], arr[2], arr[3]}
		return nil
	}
	var v legacyVec
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	w := 1.0
	if v.W != nil {
		w = *v.W
	}
	*q = legacyRotation{v.X, v.Y, v.Z, w}
	return nil
}

// xyzw returns the components, identity when q is nil.
func (q *legacyRotation) xyzw() (x, y, z, w float64) {
	if q == nil {
		return 0, 0, 0, 1
	}
	return q[0], q[1], q[2], q[3]
}

// Encode serializes a document in the canonical format.
func Encode(doc Document) ([]byte, error) {
	w := wireDocument{Anchors: make([]wireGroup, 0, len(doc.Groups))}
	for _, g := range doc.Groups {
		wg := wireGroup{
			ID:      g.ID,
			Key:     g.Key,
			Kind:    g.Kind.String(),
			Records: make([]wireRecord, 0, len(g.Records)),
		}
		if g.Origin != nil {
			wp := toWirePose(*g.Origin)
			wg.Origin = &wp
		}
		for _, r := range g.Records {
			wp := toWirePose(r.Relative)
			wg.Records = append(wg.Records, wireRecord{
				ID:       r.ID,
				Position: wp.Position,
				Rotation: wp.Rotation,
				Tag:      r.Tag,
			})
		}
		w.Anchors = append(w.Anchors, wg)
	}
	out, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("anchorstore: encode: %w", err)
	}
	return append(out, '\n'), nil
}

// Decode parses any supported document shape. Empty input yields an empty
// document. Missing ids are assigned. Fields outside the known shapes are
// an error, so an unfamiliar file is never silently reduced to less data.
func Decode(data []byte) (Document, error) {
	return DecodeWithKey(data, "")
}

// DecodeWithKey is Decode with the key a single-record document is filed
// under. Other shapes ignore key.
func DecodeWithKey(data []byte, key string) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Document{}, err
	}

	var (
		doc Document
		err error
	)
	switch {
	case top["anchors"] != nil && hasWorldPoses(top["anchors"]):
		doc, err = decodeWorldAnchors(data)
	case top["anchors"] != nil:
		doc, err = decodeCanonical(data)
	case top["positions"] != nil:
		doc, err = decodePositions(data)
	case top["data"] != nil:
		doc, err = decodeAnnotations(data)
	case top["localPosition"] != nil || top["localRotation"] != nil:
		doc, err = decodeRecord(data, key)
	case len(top) == 0:
		return Document{}, nil
	default:
		return Document{}, errors.New("unrecognized document shape")
	}
	if err != nil {
		return Document{}, err
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// hasWorldPoses reports whether an anchors list holds bare world poses
// rather than groups.
func hasWorldPoses(raw json.RawMessage) bool {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return false
	}
	for _, e := range entries {
		_, pos := e["position"]
		_, rot := e["rotation"]
		if pos || rot {
			return true
		}
	}
	return false
}

func decodeCanonical(data []byte) (Document, error) {
	var w wireDocument
	if err := decodeStrict(data, &w); err != nil {
		return Document{}, err
	}
	doc := Document{}
	for i, wg := range w.Anchors {
		g := ReferenceGroup{ID: orNewID(wg.ID), Key: wg.Key}
		kind := wg.Kind
		if kind == "" && wg.Key != "" {
			kind = tracking.KindImage.String()
		}
		k, err := tracking.ParseKind(kind)
		if err != nil {
			return Document{}, fmt.Errorf("anchors[%d]: %w", i, err)
		}
		g.Kind = k
		if wg.Origin != nil {
			p, err := fromWire(wg.Origin.Position, wg.Origin.Rotation)
			if err != nil {
				return Document{}, fmt.Errorf("anchors[%d].origin: %w", i, err)
			}
			g.Origin = &p
		}
		for j, wr := range wg.Records {
			p, err := fromWire(wr.Position, wr.Rotation)
			if err != nil {
				return Document{}, fmt.Errorf("anchors[%d].records[%d]: %w", i, j, err)
			}
			g.Records = append(g.Records, PlacementRecord{ID: orNewID(wr.ID), Relative: p, Tag: wr.Tag})
		}
		doc.Groups = append(doc.Groups, g)
	}
	return doc, nil
}

// decodePositions maps the flat shape to one keyless plane group anchored at
// the world origin, so the positions keep their world meaning.
func decodePositions(data []byte) (Document, error) {
	var w legacyPositions
	if err := decodeStrict(data, &w); err != nil {
		return Document{}, err
	}
	if len(w.Positions) == 0 {
		return Document{}, nil
	}
	g := worldGroup()
	for _, p := range w.Positions {
		g.Records = append(g.Records, NewRecord(pose.Pose{Position: mgl64.Vec3(p), Rotation: mgl64.QuatIdent()}, ""))
	}
	return Document{Groups: []ReferenceGroup{g}}, nil
}

// decodeWorldAnchors maps a list of world poses to one keyless plane group at
// the world origin, like decodePositions.
func decodeWorldAnchors(data []byte) (Document, error) {
	var w legacyWorldAnchors
	if err := decodeStrict(data, &w); err != nil {
		return Document{}, err
	}
	if len(w.Anchors) == 0 {
		return Document{}, nil
	}
	g := worldGroup()
	for _, a := range w.Anchors {
		g.Records = append(g.Records, NewRecord(legacyPose(a.Position, a.Rotation), ""))
	}
	return Document{Groups: []ReferenceGroup{g}}, nil
}

func decodeRecord(data []byte, key string) (Document, error) {
	if key == "" {
		return Document{}, ErrNeedsKey
	}
	var r legacyRecord
	if err := decodeStrict(data, &r); err != nil {
		return Document{}, err
	}
	doc := Document{}
	g, err := doc.AddGroup(key, tracking.KindImage, nil)
	if err != nil {
		return Document{}, err
	}
	if err := doc.AppendRecord(g.ID, NewRecord(r.pose(), "")); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func worldGroup() ReferenceGroup {
	origin := pose.Identity()
	return ReferenceGroup{ID: uuid.NewString(), Kind: tracking.KindPlane, Origin: &origin}
}

func decodeAnnotations(data []byte) (Document, error) {
	var w legacyAnnotations
	if err := decodeStrict(data, &w); err != nil {
		return Document{}, err
	}
	doc := Document{}
	for _, item := range w.Data {
		if item.ImageName == "" {
			return Document{}, errors.New("annotation set without imageName")
		}
		g, ok := doc.GroupByKey(item.ImageName)
		if !ok {
			var err error
			if g, err = doc.AddGroup(item.ImageName, tracking.KindImage, nil); err != nil {
				return Document{}, err
			}
		}
		for _, a := range item.Annotations {
			if err := doc.AppendRecord(g.ID, NewRecord(a.pose(), "")); err != nil {
				return Document{}, err
			}
		}
	}
	return doc, nil
}

func toWirePose(p pose.Pose) wirePose {
	return wirePose{
		Position: []float64{p.Position[0], p.Position[1], p.Position[2]},
		Rotation: []float64{p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2], p.Rotation.W},
	}
}

func fromWire(position, rotation []float64) (pose.Pose, error) {
	if len(position) != 3 {
		return pose.Pose{}, fmt.Errorf("position needs 3 components, got %d", len(position))
	}
	if len(rotation) != 4 {
		return pose.Pose{}, fmt.Errorf("rotation needs 4 components, got %d", len(rotation))
	}
	return pose.New(
		mgl64.Vec3{position[0], position[1], position[2]},
		rotation[0], rotation[1], rotation[2], rotation[3],
	), nil
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
