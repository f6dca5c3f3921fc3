package watch

// WorkingSet holds the space ids a watcher has already resolved. It is owned by a single
// watcher goroutine and is not safe for concurrent use.
type WorkingSet struct {
	ids map[string]struct{}
}

// NewWorkingSet returns an empty set.
func NewWorkingSet() *WorkingSet { return &WorkingSet{ids: make(map[string]struct{})} }

// Has reports whether id was seen.
func (s *WorkingSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add marks id as seen.
func (s *WorkingSet) Add(id string) { s.ids[id] = struct{}{} }

// Retain evicts every id not in keep.
func (s *WorkingSet) Retain(keep []string) {
	k := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		k[id] = struct{}{}
	}
	for id := range s.ids {
		if _, ok := k[id]; !ok {
			delete(s.ids, id)
		}
	}
}

// Len is the number of ids held.
func (s *WorkingSet) Len() int { return len(s.ids) }
