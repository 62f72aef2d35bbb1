package anchorstore

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/starford/waymark/internal/pose"
	"github.com/starford/waymark/internal/tracking"
)

var docOpts = cmp.Options{cmpopts.EquateEmpty()}

func rotY(angle float64) pose.Pose {
	return pose.Pose{Position: mgl64.Vec3{0.25, -1, 3.5}, Rotation: mgl64.QuatRotate(angle, mgl64.Vec3{0, 1, 0})}
}

func sampleDocument(t *testing.T) Document {
	t.Helper()
	var doc Document
	poster, err := doc.AddGroup("poster", tracking.KindImage, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = doc.AppendRecord(poster.ID, NewRecord(rotY(0.3), "cube"))
	_ = doc.AppendRecord(poster.ID, NewRecord(rotY(-1.2), ""))

	origin := rotY(1)
	floor, _ := doc.AddGroup("", tracking.KindPlane, &origin)
	_ = doc.AppendRecord(floor.ID, NewRecord(pose.Identity(), "arrow"))

	_, _ = doc.AddGroup("empty-marker", tracking.KindImage, nil)
	return doc
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := map[string]Document{
		"empty":     {},
		"populated": sampleDocument(t),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(doc)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v\n%s", err, data)
			}
			if diff := cmp.Diff(doc, got, docOpts); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeCanonicalShape(t *testing.T) {
	var doc Document
	g, _ := doc.AddGroup("poster", tracking.KindImage, nil)
	_ = doc.AppendRecord(g.ID, PlacementRecord{ID: "r1", Relative: pose.New(mgl64.Vec3{1, 2, 3}, 0, 0, 0, 1)})

	data, err := Encode(doc)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"anchors"`, `"key": "poster"`, `"kind": "image"`, `"records"`, `"position": [`, `"rotation": [`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded document missing %s:\n%s", want, s)
		}
	}

	empty, _ := Encode(Document{})
	if !strings.Contains(string(empty), `"anchors": []`) {
		t.Errorf("empty document should encode an empty anchors list, got %s", empty)
	}
}

func TestDecodeEmptyInputs(t *testing.T) {
	for _, in := range []string{"", "   \n", "{}", `{"anchors": null}`, `{"positions": []}`} {
		doc, err := Decode([]byte(in))
		if err != nil {
			t.Errorf("Decode(%q): %v", in, err)
			continue
		}
		if !doc.IsEmpty() {
			t.Errorf("Decode(%q) = %+v, want empty", in, doc)
		}
	}
}

func TestDecodeCanonicalDefaults(t *testing.T) {
	doc, err := Decode([]byte(`{"anchors":[
		{"key":"poster","records":[{"position":[1,0,0],"rotation":[0,0,0,1]}]},
		{"records":[{"position":[0,0,0],"rotation":[0,0,0,1]}]}
	]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(doc.Groups) != 2 {
		t.Fatalf("groups = %d", len(doc.Groups))
	}
	if doc.Groups[0].Kind != tracking.KindImage || doc.Groups[1].Kind != tracking.KindPlane {
		t.Errorf("kinds = %v, %v", doc.Groups[0].Kind, doc.Groups[1].Kind)
	}
	for _, g := range doc.Groups {
		if g.ID == "" || g.Records[0].ID == "" {
			t.Errorf("ids should be assigned: %+v", g)
		}
	}
}

func TestDecodeLegacyPositions(t *testing.T) {
	doc, err := Decode([]byte(`{"positions":[[1,2,3],[4,5,6]]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(doc.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(doc.Groups))
	}
	g := doc.Groups[0]
	if g.Keyed() || g.Kind != tracking.KindPlane || g.Origin == nil {
		t.Errorf("legacy group = %+v", g)
	}
	if len(g.Records) != 2 || g.Records[1].Relative.Position != (mgl64.Vec3{4, 5, 6}) {
		t.Errorf("records = %+v", g.Records)
	}
	if g.Records[0].Relative.Rotation != mgl64.QuatIdent() {
		t.Errorf("legacy rotation = %v, want identity", g.Records[0].Relative.Rotation)
	}
}

func TestDecodeLegacyAnnotations(t *testing.T) {
	in := `{"data":[
		{"imageName":"poster","annotations":[
			{"localPosition":{"x":0,"y":0.1,"z":0},"localRotation":{"x":0,"y":0,"z":0,"w":1}},
			{"localPosition":{"x":1,"y":0,"z":0},"localRotation":{"x":0,"y":0.7071068,"z":0,"w":0.7071068}}
		]},
		{"imageName":"map","annotations":[]}
	]}`
	doc, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	poster, ok := doc.GroupByKey("poster")
	if !ok || len(poster.Records) != 2 {
		t.Fatalf("poster group = %+v", poster)
	}
	if math.Abs(poster.Records[1].Relative.Rotation.W-0.7071068) > 1e-9 {
		t.Errorf("rotation w = %v", poster.Records[1].Relative.Rotation.W)
	}
	if _, ok := doc.GroupByKey("map"); !ok {
		t.Error("map group missing")
	}
}

func TestDecodeLegacyWorldPoses(t *testing.T) {
	doc, err := Decode([]byte(`{"anchors":[
		{"position":{"x":1,"y":0,"z":2},"rotation":{"x":0,"y":0,"z":0,"w":1}},
		{"position":{"x":-1,"y":0.5,"z":0},"rotation":{"x":0,"y":0.7071068,"z":0,"w":0.7071068}}
	]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(doc.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(doc.Groups))
	}
	g := doc.Groups[0]
	if g.Kind != tracking.KindPlane || g.Keyed() || g.Origin == nil || *g.Origin != pose.Identity() {
		t.Errorf("group = %+v, want keyless plane at the world origin", g)
	}
	if len(g.Records) != 2 || g.Records[0].Relative.Position != (mgl64.Vec3{1, 0, 2}) {
		t.Fatalf("records = %+v", g.Records)
	}
	if math.Abs(g.Records[1].Relative.Rotation.V[1]-0.7071068) > 1e-9 {
		t.Errorf("rotation = %v", g.Records[1].Relative.Rotation)
	}
}

func TestDecodeLegacyObjectPositions(t *testing.T) {
	doc, err := Decode([]byte(`{"positions":[{"x":1.0,"y":0.0,"z":2.0},[3,4,5]]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	recs := doc.Groups[0].Records
	if len(recs) != 2 || recs[0].Relative.Position != (mgl64.Vec3{1, 0, 2}) || recs[1].Relative.Position != (mgl64.Vec3{3, 4, 5}) {
		t.Errorf("records = %+v", recs)
	}
}

func TestDecodeSingleRecord(t *testing.T) {
	in := []byte(`{"localPosition":{"x":0,"y":0.1,"z":0},"localRotation":{"x":0,"y":0,"z":0,"w":1}}`)
	if _, err := Decode(in); !errors.Is(err, ErrNeedsKey) {
		t.Fatalf("err = %v, want ErrNeedsKey", err)
	}
	doc, err := DecodeWithKey(in, "poster")
	if err != nil {
		t.Fatalf("DecodeWithKey: %v", err)
	}
	g, ok := doc.GroupByKey("poster")
	if !ok || len(g.Records) != 1 || g.Records[0].Relative.Position != (mgl64.Vec3{0, 0.1, 0}) {
		t.Errorf("doc = %+v", doc)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"truncated":      `{"anchors":[{"key":"poster","records":[{"position":[1,0`,
		"not json":       `hello`,
		"unknown shape":  `{"widgets":[]}`,
		"short position": `{"anchors":[{"records":[{"position":[1,0],"rotation":[0,0,0,1]}]}]}`,
		"zero rotation":  `{"anchors":[{"records":[{"position":[1,0,0],"rotation":[0,0,0,0]}]}]}`,
		"duplicate key":  `{"anchors":[{"key":"a","records":[]},{"key":"a","records":[]}]}`,
		"image no key":   `{"anchors":[{"kind":"image","records":[]}]}`,
		"bad kind":       `{"anchors":[{"kind":"mesh","records":[]}]}`,
		"unknown field":  `{"anchors":[{"key":"a","points":[[1,2,3]]}]}`,
		"mixed entries":  `{"anchors":[{"key":"a","records":[]},{"position":[1,2,3]}]}`,
		"flat too short": `{"positions":[[1,2]]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(in)); err == nil {
				t.Errorf("expected error for %s", in)
			}
		})
	}
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	doc := sampleDocument(t)
	clone := doc.Clone()
	_ = doc.AppendRecord(doc.Groups[0].ID, NewRecord(pose.Identity(), ""))
	doc.Groups[1].Origin.Position[0] = 99

	if len(clone.Groups[0].Records) != 2 {
		t.Errorf("clone observed appended record")
	}
	if clone.Groups[1].Origin.Position[0] == 99 {
		t.Errorf("clone shares origin with source")
	}
}

func TestRemoveGroup(t *testing.T) {
	doc := sampleDocument(t)
	id := doc.Groups[1].ID
	if !doc.RemoveGroup(id) {
		t.Fatal("RemoveGroup returned false")
	}
	if _, ok := doc.Group(id); ok {
		t.Error("group still present")
	}
	if doc.RemoveGroup(id) {
		t.Error("second remove should report false")
	}
}
