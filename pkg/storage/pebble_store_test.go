package storage

import (
	"testing"
	"time"

	"github.com/qzavyer/HyperNodeServer/pkg/order"
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadOrders(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	orders := []*order.Order{
		{ID: "1", Symbol: "BTC", Side: order.Bid, Price: 50000, Size: 1.5,
			Owner: "0x1234567890AbcdEF1234567890aBcdef12345678", Timestamp: ts, Status: order.StatusOpen},
		{ID: "2", Symbol: "ETH", Side: order.Ask, Price: 3000, Size: 10,
			Owner: "0x1234567890AbcdEF1234567890aBcdef12345678", Timestamp: ts, Status: order.StatusFilled},
	}
	for _, o := range orders {
		if err := s.SaveOrder(o); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := s.LoadOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d orders, want 2", len(loaded))
	}
	byID := make(map[string]*order.Order)
	for _, o := range loaded {
		byID[o.ID] = o
	}
	if got := byID["1"]; got == nil || got.Price != 50000 || got.Status != order.StatusOpen || !got.Timestamp.Equal(ts) {
		t.Errorf("order 1 = %+v", got)
	}
	if got := byID["2"]; got == nil || got.Status != order.StatusFilled {
		t.Errorf("order 2 = %+v", got)
	}
}

func TestSaveOrderOverwrites(t *testing.T) {
	s := newTestStore(t)

	o := &order.Order{ID: "1", Symbol: "BTC", Status: order.StatusOpen, Size: 1}
	if err := s.SaveOrder(o); err != nil {
		t.Fatal(err)
	}
	o.Status = order.StatusFilled
	if err := s.SaveOrder(o); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].Status != order.StatusFilled {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestDeleteOrder(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveOrder(&order.Order{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteOrder("1"); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.LoadOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d orders after delete, want 0", len(loaded))
	}

	// Deleting a missing key is not an error in pebble.
	if err := s.DeleteOrder("ghost"); err != nil {
		t.Errorf("delete of missing key: %v", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// No cursor yet: zero values, no error.
	path, offset, err := s.LoadCursor()
	if err != nil || path != "" || offset != 0 {
		t.Errorf("empty cursor = %q, %d, %v", path, offset, err)
	}

	if err := s.SaveCursor("/logs/hourly/20260828/10", 4096); err != nil {
		t.Fatal(err)
	}
	path, offset, err = s.LoadCursor()
	if err != nil {
		t.Fatal(err)
	}
	if path != "/logs/hourly/20260828/10" || offset != 4096 {
		t.Errorf("cursor = %q @ %d", path, offset)
	}
}

func TestCursorKeyOutsideOrderPrefix(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveCursor("/some/file", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOrder(&order.Order{ID: "1"}); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Errorf("cursor record leaked into order scan: %d entries", len(loaded))
	}
}
