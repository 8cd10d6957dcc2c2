package store

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

type IngestResult int

const (
	Unchanged IngestResult = iota
	Inserted
	Updated
)

func (r IngestResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

type ChangeFunc func()

// Store is the in-memory order set of one staff session. Orders are kept
// newest first; the id is the merge key for every mutation.
type Store struct {
	mu     sync.RWMutex
	orders []domain.Order
	index  map[string]int

	subMu   sync.Mutex
	nextSub int
	subs    map[int]ChangeFunc
}

func New() *Store {
	return &Store{
		index: make(map[string]int),
		subs:  make(map[int]ChangeFunc),
	}
}

// Ingest upserts order by id. A new id is prepended; a known id is replaced
// in place, keeping its position.
func (s *Store) Ingest(order domain.Order) IngestResult {
	order = order.Clone()

	s.mu.Lock()
	result := s.ingestLocked(order)
	s.mu.Unlock()

	if result != Unchanged {
		s.notify()
	}
	return result
}

func (s *Store) ingestLocked(order domain.Order) IngestResult {
	if i, ok := s.index[order.ID]; ok {
		if sameOrder(s.orders[i], order) {
			return Unchanged
		}
		s.orders[i] = order
		return Updated
	}

	s.orders = append(s.orders, domain.Order{})
	copy(s.orders[1:], s.orders[:len(s.orders)-1])
	s.orders[0] = order
	s.reindexLocked()
	return Inserted
}

// ReplaceAll swaps the whole snapshot for an authoritative read. Duplicate
// ids in orders keep their first occurrence. Subscribers are only notified
// when the snapshot actually differs.
func (s *Store) ReplaceAll(orders []domain.Order) {
	next := make([]domain.Order, 0, len(orders))
	seen := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		if _, dup := seen[order.ID]; dup {
			continue
		}
		seen[order.ID] = struct{}{}
		next = append(next, order.Clone())
	}

	s.mu.Lock()
	changed := !sameSnapshot(s.orders, next)
	s.orders = next
	s.reindexLocked()
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// All returns a deep copy of the current snapshot.
func (s *Store) All() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, len(s.orders))
	for i, order := range s.orders {
		out[i] = order.Clone()
	}
	return out
}

func (s *Store) Get(id string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return domain.Order{}, false
	}
	return s.orders[i].Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Subscribe registers fn to run after every mutation that changed the
// snapshot. Callbacks run on the mutating goroutine, outside the store lock.
func (s *Store) Subscribe(fn ChangeFunc) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]ChangeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) reindexLocked() {
	s.index = make(map[string]int, len(s.orders))
	for i, order := range s.orders {
		s.index[order.ID] = i
	}
}

// sameOrder compares canonical encodings so decimals compare by value.
func sameOrder(a, b domain.Order) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func sameSnapshot(a, b []domain.Order) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !sameOrder(a[i], b[i]) {
			return false
		}
	}
	return true
}
