package order

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]Order
	gotOne  chan struct{}
	once    sync.Once
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{gotOne: make(chan struct{})}
}

func (p *capturePublisher) PublishOrders(orders []Order) {
	p.mu.Lock()
	p.batches = append(p.batches, orders)
	p.mu.Unlock()
	p.once.Do(func() { close(p.gotOne) })
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func TestOutboxDelivers(t *testing.T) {
	pub := newCapturePublisher()
	ob := NewOutbox(4, zap.NewNop().Sugar(), pub)
	go ob.Run()

	ob.Enqueue([]Order{open("1", 1)})

	select {
	case <-pub.gotOne:
	case <-time.After(time.Second):
		t.Fatal("publisher never received the batch")
	}
	ob.Close()

	if pub.count() != 1 {
		t.Errorf("publisher received %d batches, want 1", pub.count())
	}
	if ob.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", ob.Dropped())
	}
}

func TestOutboxEnqueueNeverBlocksWhenFull(t *testing.T) {
	pub := newCapturePublisher()
	ob := NewOutbox(1, zap.NewNop().Sugar(), pub)
	// No dispatcher running: the channel fills immediately.

	ob.Enqueue([]Order{open("1", 1)})
	ob.Enqueue([]Order{open("2", 2)})
	ob.Enqueue([]Order{open("3", 3)})

	if ob.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2 (oldest evicted)", ob.Dropped())
	}

	// The surviving batch is the newest one.
	go ob.Run()
	select {
	case <-pub.gotOne:
	case <-time.After(time.Second):
		t.Fatal("publisher never received the batch")
	}
	ob.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || pub.batches[0][0].ID != "3" {
		t.Errorf("surviving batch = %+v, want order 3", pub.batches)
	}
}

func TestOutboxCloseDrainsQueued(t *testing.T) {
	pub := newCapturePublisher()
	ob := NewOutbox(8, zap.NewNop().Sugar(), pub)

	ob.Enqueue([]Order{open("1", 1)})
	ob.Enqueue([]Order{open("2", 2)})
	ob.Close()

	done := make(chan struct{})
	go func() {
		ob.Run() // drains queued batches, then returns
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	if pub.count() != 2 {
		t.Errorf("publisher received %d batches, want 2", pub.count())
	}
}

func TestOutboxIgnoresEmptyBatch(t *testing.T) {
	ob := NewOutbox(1, zap.NewNop().Sugar())
	ob.Enqueue(nil)
	ob.Enqueue([]Order{})
	if ob.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", ob.Dropped())
	}
}
