package chat

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

var (
	ErrTurnNotFound  = errors.New("turn not found")
	ErrDuplicateTurn = errors.New("duplicate turn id")
	ErrTurnPending   = errors.New("another turn is pending")
)

// ChangeKind tells watchers what kind of mutation happened.
type ChangeKind int

const (
	ChangeAppended ChangeKind = iota
	ChangeUpdated
	ChangeReset
)

// Change is delivered to watchers after every mutation, in mutation order.
// Turn is the zero value for ChangeReset.
type Change struct {
	Kind ChangeKind
	Turn model.Turn
}

// Store is the ordered list of turns of one conversation. All mutations go
// through Append, Update and Reset, which serialize on a single lock, so
// concurrent writers never lose each other's updates.
//
// Answers held by the store are treated as immutable values: callers must
// not modify maps reachable from a returned Turn.
type Store struct {
	mu      sync.RWMutex
	turns   []model.Turn
	index   map[string]int
	pending string

	// dispatchMu keeps watcher delivery in mutation order.
	dispatchMu sync.Mutex

	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

// NewStore creates a store seeded with turns. Seeded turns must have unique
// ids and at most one of them may be pending.
func NewStore(turns ...model.Turn) (*Store, error) {
	s := &Store{watchers: make(map[int]func(Change))}
	if err := s.load(turns); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(turns []model.Turn) error {
	index := make(map[string]int, len(turns))
	pending := ""
	for i, t := range turns {
		if _, dup := index[t.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTurn, t.ID)
		}
		if t.Phase.Pending() {
			if pending != "" {
				return ErrTurnPending
			}
			pending = t.ID
		}
		index[t.ID] = i
	}

	s.turns = slices.Clone(turns)
	s.index = index
	s.pending = pending
	return nil
}

// Append adds a turn at the end of the conversation.
func (s *Store) Append(t model.Turn) error {
	_, err := s.mutate(func() (Change, error) {
		if _, dup := s.index[t.ID]; dup {
			return Change{}, fmt.Errorf("%w: %s", ErrDuplicateTurn, t.ID)
		}
		if t.Phase.Pending() {
			if s.pending != "" {
				return Change{}, ErrTurnPending
			}
			s.pending = t.ID
		}
		s.index[t.ID] = len(s.turns)
		s.turns = append(s.turns, t)
		return Change{Kind: ChangeAppended, Turn: t}, nil
	})
	return err
}

// Update replaces the turn identified by id with fn applied to its current
// value. If fn returns an error the store is left unchanged and the error is
// returned as-is.
func (s *Store) Update(id string, fn func(model.Turn) (model.Turn, error)) (model.Turn, error) {
	c, err := s.mutate(func() (Change, error) {
		i, ok := s.index[id]
		if !ok {
			return Change{}, fmt.Errorf("%w: %s", ErrTurnNotFound, id)
		}

		next, err := fn(s.turns[i])
		if err != nil {
			return Change{Turn: s.turns[i]}, err
		}
		next.ID = id

		switch {
		case next.Phase.Pending() && s.pending != "" && s.pending != id:
			return Change{Turn: s.turns[i]}, ErrTurnPending
		case next.Phase.Pending():
			s.pending = id
		case s.pending == id:
			s.pending = ""
		}

		s.turns[i] = next
		return Change{Kind: ChangeUpdated, Turn: next}, nil
	})
	return c.Turn, err
}

// Reset replaces the whole conversation, as done by clearing or hydrating.
func (s *Store) Reset(turns []model.Turn) error {
	_, err := s.mutate(func() (Change, error) {
		if err := s.load(turns); err != nil {
			return Change{}, err
		}
		return Change{Kind: ChangeReset}, nil
	})
	return err
}

// Get returns the turn with the given id.
func (s *Store) Get(id string) (model.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return model.Turn{}, false
	}
	return s.turns[i], true
}

// Turns returns a snapshot of the conversation in insertion order.
func (s *Store) Turns() []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.turns)
}

// Before returns the turns that precede id. It returns every turn when id is
// not in the store.
func (s *Store) Before(id string) []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i, ok := s.index[id]; ok {
		return slices.Clone(s.turns[:i])
	}
	return slices.Clone(s.turns)
}

// Pending returns the turn currently in flight, if any.
func (s *Store) Pending() (model.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pending == "" {
		return model.Turn{}, false
	}
	return s.turns[s.index[s.pending]], true
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Watch registers fn to receive every subsequent change. fn runs on the
// mutating goroutine and must not mutate the store. The returned func
// unregisters it.
func (s *Store) Watch(fn func(Change)) (stop func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) mutate(fn func() (Change, error)) (Change, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	c, err := fn()
	s.mu.Unlock()
	if err != nil {
		return c, err
	}

	s.watchMu.Lock()
	watchers := slices.Collect(maps.Values(s.watchers))
	s.watchMu.Unlock()

	for _, w := range watchers {
		w(c)
	}
	return c, nil
}
