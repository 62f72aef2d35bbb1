package tracking

import (
	"testing"

	"github.com/starford/waymark/internal/pose"
)

func frame(id string, kind Kind, state State) ReferenceFrame {
	return ReferenceFrame{ID: id, Kind: kind, State: state, Pose: pose.Identity()}
}

func TestSetPreservesFirstSeenOrder(t *testing.T) {
	s := NewSet()
	s.Put(frame("a", KindPlane, Tracking))
	s.Put(frame("b", KindPlane, Tracking))
	s.Put(frame("a", KindPlane, Limited))

	got := s.Frames()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("order = %v", got)
	}
	if got[0].State != Limited {
		t.Errorf("a state = %v, want limited", got[0].State)
	}
}

func TestSetApply(t *testing.T) {
	s := NewSet()
	s.Apply(Update{Added: []ReferenceFrame{frame("a", KindPlane, Tracking), frame("b", KindImage, Tracking)}})
	s.Apply(Update{Removed: []string{"a", "missing"}, Updated: []ReferenceFrame{frame("b", KindImage, Limited)}})

	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	b, ok := s.Get("b")
	if !ok || b.State != Limited {
		t.Errorf("b = %+v, ok=%v", b, ok)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("a should be removed")
	}
}

func TestPersistableKey(t *testing.T) {
	img := ReferenceFrame{ID: "1", Kind: KindImage, Label: "poster"}
	if k, ok := img.PersistableKey(); !ok || k != "poster" {
		t.Errorf("image key = %q, %v", k, ok)
	}
	plane := ReferenceFrame{ID: "2", Kind: KindPlane, Label: "ignored"}
	if _, ok := plane.PersistableKey(); ok {
		t.Error("planes have no persistable key")
	}
	unlabeled := ReferenceFrame{ID: "3", Kind: KindImage}
	if _, ok := unlabeled.PersistableKey(); ok {
		t.Error("unlabeled image has no persistable key")
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindPlane, KindImage} {
		b, _ := k.MarshalText()
		var got Kind
		if err := got.UnmarshalText(b); err != nil || got != k {
			t.Errorf("kind %v: got %v, err %v", k, got, err)
		}
	}
	var k Kind
	if err := k.UnmarshalText([]byte("mesh")); err == nil {
		t.Error("expected error for unknown kind")
	}
}
