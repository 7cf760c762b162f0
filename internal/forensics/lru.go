package forensics

import "container/list"

// lruSet is a bounded least-recently-used set used for duplicate trade
// ID detection. No LRU library appears anywhere in the example corpus,
// so this is hand-rolled on container/list + map, the same approach the
// spec's own design notes describe ("hash-map + doubly-linked list").
type lruSet struct {
	maxSize int
	ll      *list.List
	index   map[int64]*list.Element
}

func newLRUSet(maxSize int) *lruSet {
	return &lruSet{
		maxSize: maxSize,
		ll:      list.New(),
		index:   make(map[int64]*list.Element),
	}
}

// Contains reports whether id has been seen, and touches it as
// recently used if so.
func (s *lruSet) Contains(id int64) bool {
	el, ok := s.index[id]
	if !ok {
		return false
	}
	s.ll.MoveToFront(el)
	return true
}

// Add records id as seen, evicting the least-recently-used entry if the
// set is at capacity.
func (s *lruSet) Add(id int64) {
	if el, ok := s.index[id]; ok {
		s.ll.MoveToFront(el)
		return
	}
	el := s.ll.PushFront(id)
	s.index[id] = el

	if s.ll.Len() > s.maxSize {
		oldest := s.ll.Back()
		if oldest != nil {
			s.ll.Remove(oldest)
			delete(s.index, oldest.Value.(int64))
		}
	}
}

// Len returns the current number of tracked IDs.
func (s *lruSet) Len() int { return s.ll.Len() }
