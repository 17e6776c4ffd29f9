package order

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Persister is the durable backing for the in-memory table. Implemented by
// storage.PebbleStore; a nil Persister keeps the store memory-only (tests).
type Persister interface {
	SaveOrder(o *Order) error
	DeleteOrder(id string) error
}

// Store is the shared order-by-id table and the merge sink in front of it.
// All mutation goes through Apply, which serializes concurrent merges so the
// transition-legality invariant is enforced in exactly one place.
type Store struct {
	mu     sync.RWMutex
	orders map[string]*Order

	persist Persister
	log     *zap.SugaredLogger

	illegalTransitions uint64
}

func NewStore(persist Persister, log *zap.SugaredLogger) *Store {
	return &Store{
		orders:  make(map[string]*Order),
		persist: persist,
		log:     log,
	}
}

// Load seeds the table from persisted state. Called once at startup before
// the watcher runs, so no locking discipline beyond the usual is needed.
func (s *Store) Load(orders []*Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		s.orders[o.ID] = o
	}
}

// Apply merges one parsed batch into the table and returns the subset that
// actually changed state (new orders plus legal transitions). Illegal
// transitions are dropped with a warning; the rest of the batch is unaffected.
// At most one merge runs at a time.
func (s *Store) Apply(batch []Order) []Order {
	if len(batch) == 0 {
		return nil
	}

	// Group same-id updates so one batch carrying both a fill and a cancel
	// for the same order resolves to a single status before the DAG check.
	grouped := make(map[string][]Order)
	ids := make([]string, 0, len(batch))
	for _, o := range batch {
		if _, seen := grouped[o.ID]; !seen {
			ids = append(ids, o.ID)
		}
		grouped[o.ID] = append(grouped[o.ID], o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []Order
	for _, id := range ids {
		updates := grouped[id]
		resolved := s.resolveBatchStatus(id, updates)
		latest := updates[len(updates)-1]
		latest.Status = resolved

		current, exists := s.orders[id]
		if exists {
			if !current.Status.CanTransition(resolved) {
				s.illegalTransitions++
				if s.log != nil {
					s.log.Warnw("illegal_status_transition",
						"order_id", id, "from", current.Status, "to", resolved)
				}
				continue
			}
			if current.Status == resolved && current.Size == latest.Size && current.Price == latest.Price {
				continue // idempotent re-observation, nothing changed
			}
		}

		stored := latest
		s.orders[id] = &stored
		changed = append(changed, latest)

		if s.persist != nil {
			if err := s.persist.SaveOrder(&stored); err != nil && s.log != nil {
				s.log.Errorw("order_persist_failed", "order_id", id, "err", err)
			}
		}
	}
	return changed
}

// resolveBatchStatus collapses simultaneous same-id updates to one status.
// Priority: cancelled > filled > triggered > open; a batch carrying both a
// fill and a cancel picks cancelled and warns, matching node semantics where
// the cancel record is authoritative.
func (s *Store) resolveBatchStatus(id string, updates []Order) Status {
	var hasOpen, hasFilled, hasCancelled, hasTriggered bool
	for _, o := range updates {
		switch o.Status {
		case StatusOpen:
			hasOpen = true
		case StatusFilled:
			hasFilled = true
		case StatusCancelled:
			hasCancelled = true
		case StatusTriggered:
			hasTriggered = true
		}
	}

	if hasFilled && hasCancelled && s.log != nil {
		s.log.Warnw("conflicting_batch_statuses", "order_id", id,
			"resolution", StatusCancelled)
	}
	switch {
	case hasCancelled:
		return StatusCancelled
	case hasFilled:
		return StatusFilled
	case hasTriggered:
		return StatusTriggered
	case hasOpen:
		return StatusOpen
	}
	return StatusCancelled
}

func (s *Store) Get(id string) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Symbol       string
	Side         Side
	Status       Status
	Owner        string
	MinLiquidity float64
	Limit        int
}

func (f Filter) matches(o *Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Owner != "" && o.Owner != f.Owner {
		return false
	}
	if f.MinLiquidity > 0 && o.Liquidity() < f.MinLiquidity {
		return false
	}
	return true
}

func (s *Store) List(f Filter) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if !f.matches(o) {
			continue
		}
		out = append(out, *o)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts
}

func (s *Store) IllegalTransitions() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.illegalTransitions
}

// CleanupOlderThan removes orders whose last observation predates the cutoff
// and returns how many were removed.
func (s *Store) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for id, o := range s.orders {
		if o.Timestamp.Before(cutoff) {
			delete(s.orders, id)
			removed++
			if s.persist != nil {
				if err := s.persist.DeleteOrder(id); err != nil && s.log != nil {
					s.log.Errorw("order_delete_failed", "order_id", id, "err", err)
				}
			}
		}
	}
	if removed > 0 && s.log != nil {
		s.log.Infow("orders_cleaned", "removed", removed)
	}
	return removed
}
