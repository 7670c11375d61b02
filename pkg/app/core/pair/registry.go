package pair

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrPairExists   = errors.New("pair: pair already exists")
	ErrPairNotFound = errors.New("pair: pair not found")
)

// State holds one pair with its positions and orders. Readers always see the
// records of the last applied Changes.
type State struct {
	mu        sync.RWMutex
	pair      *Pair
	positions map[common.Address]*Position
	orders    map[OrderID]*LimitOrder
}

func newState() *State {
	return &State{
		positions: make(map[common.Address]*Position),
		orders:    make(map[OrderID]*LimitOrder),
	}
}

// Pair returns a copy of the pair record
func (s *State) Pair() *Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Clone()
}

// Position returns a copy of owner's position, or an empty one
func (s *State) Position(owner common.Address) *Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.positions[owner]; ok {
		return p.Clone()
	}
	return &Position{PairID: s.pair.ID, Owner: owner, Shares: new(uint256.Int)}
}

// Positions returns copies of every position record, including empty ones
func (s *State) Positions() []*Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Owner.Cmp(out[j].Owner) < 0
	})
	return out
}

// Share returns owner's shares and the pair's total from the same snapshot
func (s *State) Share(owner common.Address) (shares, total *uint256.Int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shares = new(uint256.Int)
	if p, ok := s.positions[owner]; ok {
		shares.Set(p.Shares)
	}
	return shares, cloneInt(s.pair.TotalShares)
}

func (s *State) Order(id OrderID) (*LimitOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns copies of the pair's orders in id order
func (s *State) Orders(activeOnly bool) []*LimitOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*LimitOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if activeOnly && !o.Active {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply publishes the records in ch
func (s *State) Apply(ch Changes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.Pair != nil {
		s.pair = ch.Pair.Clone()
	}
	for _, p := range ch.Positions {
		s.positions[p.Owner] = p.Clone()
	}
	for _, o := range ch.Orders {
		s.orders[o.ID] = o.Clone()
	}
}

// Registry maps unordered token pairs to ids and ids to pair state
type Registry struct {
	// create serializes Register and Restore so ids are handed out in order
	create sync.Mutex

	mu    sync.RWMutex
	ids   map[Key]ID
	pairs map[ID]*State
	last  ID
}

func NewRegistry() *Registry {
	return &Registry{
		ids:   make(map[Key]ID),
		pairs: make(map[ID]*State),
	}
}

// Lookup returns the id of the pair holding a and b in either order, or 0
func (r *Registry) Lookup(a, b common.Address) ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[KeyOf(a, b)]
}

func (r *Registry) Get(id ID) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.pairs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPairNotFound, id)
	}
	return s, nil
}

// Register allocates the next id for key and calls build with it. The pair
// becomes visible with build's Changes only if build succeeds; otherwise the id
// is not consumed. build runs without holding the lookup lock, so readers of
// other pairs are not held up by it.
func (r *Registry) Register(key Key, build func(id ID) (Changes, error)) (ID, error) {
	r.create.Lock()
	defer r.create.Unlock()

	r.mu.RLock()
	_, exists := r.ids[key]
	id := r.last + 1
	r.mu.RUnlock()
	if exists {
		return 0, fmt.Errorf("%w: %s", ErrPairExists, key)
	}

	ch, err := build(id)
	if err != nil {
		return 0, err
	}

	st := newState()
	st.Apply(ch)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[id] = st
	r.ids[key] = id
	r.last = id
	return id, nil
}

// Restore installs a persisted pair
func (r *Registry) Restore(ch Changes) error {
	if ch.Pair == nil || ch.Pair.ID == 0 {
		return fmt.Errorf("restore: missing pair record")
	}

	r.create.Lock()
	defer r.create.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ch.Pair.Key()
	if _, exists := r.ids[key]; exists {
		return fmt.Errorf("%w: %s", ErrPairExists, key)
	}
	st := newState()
	st.Apply(ch)
	r.pairs[ch.Pair.ID] = st
	r.ids[key] = ch.Pair.ID
	if ch.Pair.ID > r.last {
		r.last = ch.Pair.ID
	}
	return nil
}

// Pairs returns copies of every pair in id order
func (r *Registry) Pairs() []*Pair {
	r.mu.RLock()
	states := make([]*State, 0, len(r.pairs))
	for _, s := range r.pairs {
		states = append(states, s)
	}
	r.mu.RUnlock()

	out := make([]*Pair, 0, len(states))
	for _, s := range states {
		out = append(out, s.Pair())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered pairs
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}

// LastID returns the highest id assigned so far
func (r *Registry) LastID() ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
