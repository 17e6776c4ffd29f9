package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/qzavyer/HyperNodeServer/pkg/order"
)

// PebbleStore persists the order table and the tail offset cursor.
//
// Key schema:
//
//	ord:<orderID> → Order (JSON)
//	cursor:tail   → tail cursor (JSON)
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

const (
	prefixOrder = "ord:"
	keyCursor   = "cursor:tail"
)

func orderKey(id string) []byte { return append([]byte(prefixOrder), id...) }

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// SaveOrder persists an order. NoSync: the order table is a cache over the
// node's own log; a lost tail of writes is rebuilt on the next batches.
func (s *PebbleStore) SaveOrder(o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) DeleteOrder(id string) error {
	if err := s.db.Delete(orderKey(id), pebble.NoSync); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

// LoadOrders returns every persisted order. Called once at startup to seed
// the in-memory table; invalid entries are skipped rather than fatal.
func (s *PebbleStore) LoadOrders() ([]*order.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("order iter: %w", err)
	}
	defer iter.Close()

	var orders []*order.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		orders = append(orders, &o)
	}
	return orders, nil
}

type cursorRecord struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
}

// SaveCursor records the tail position. Sync: the cursor is tiny and the
// whole point of it is surviving a crash.
func (s *PebbleStore) SaveCursor(path string, offset int64) error {
	data, err := json.Marshal(cursorRecord{Path: path, Offset: offset})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := s.db.Set([]byte(keyCursor), data, pebble.Sync); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// LoadCursor returns the persisted tail position, or zero values when none
// exists yet.
func (s *PebbleStore) LoadCursor() (string, int64, error) {
	val, closer, err := s.db.Get([]byte(keyCursor))
	if err == pebble.ErrNotFound {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("get cursor: %w", err)
	}
	defer closer.Close()

	var rec cursorRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return "", 0, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return rec.Path, rec.Offset, nil
}
