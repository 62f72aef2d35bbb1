package tracking

// Set holds the currently known frames in first-seen order. Iteration order is
// what the resolver uses to break ties, so it must stay deterministic.
type Set struct {
	order []string
	byID  map[string]ReferenceFrame
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byID: make(map[string]ReferenceFrame)}
}

// Put inserts or replaces a frame, keeping its original position in the order.
func (s *Set) Put(f ReferenceFrame) {
	if _, ok := s.byID[f.ID]; !ok {
		s.order = append(s.order, f.ID)
	}
	s.byID[f.ID] = f
}

// Remove drops a frame. Unknown ids are ignored.
func (s *Set) Remove(id string) {
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns the frame with the given id.
func (s *Set) Get(id string) (ReferenceFrame, bool) {
	f, ok := s.byID[id]
	return f, ok
}

// Len returns the number of frames.
func (s *Set) Len() int { return len(s.order) }

// Frames returns a snapshot of all frames in first-seen order.
func (s *Set) Frames() []ReferenceFrame {
	out := make([]ReferenceFrame, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Apply folds an update into the set: removals first, then additions and
// updates in delivery order.
func (s *Set) Apply(u Update) {
	for _, id := range u.Removed {
		s.Remove(id)
	}
	for _, f := range u.Added {
		s.Put(f)
	}
	for _, f := range u.Updated {
		s.Put(f)
	}
}
