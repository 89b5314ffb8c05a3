package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// inflightSet tracks which assets currently have a job somewhere in
// the pipeline, so the scanner and the folder monitor cannot race the
// same preview into the queue twice.
type inflightSet struct {
	mu  sync.Mutex
	ids map[uuid.UUID]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: map[uuid.UUID]struct{}{}}
}

// TryAdd claims the asset. It returns false if a job for it is
// already in flight.
func (s *inflightSet) TryAdd(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *inflightSet) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *inflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
