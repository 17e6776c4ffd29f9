package order

import (
	"sync"

	"go.uber.org/zap"
)

// Publisher receives batches of changed orders. Implementations are expected
// to be best-effort (websocket hub, gossip relay); no acknowledgment flows
// back to the merge path.
type Publisher interface {
	PublishOrders(orders []Order)
}

// Outbox decouples the merge critical section from subscriber delivery. The
// merge appends to a bounded channel and returns immediately; a dispatcher
// goroutine drains it and fans out to publishers. When the channel is full
// the oldest pending batch is dropped and counted; a slow subscriber must
// never stall ingestion.
type Outbox struct {
	ch   chan []Order
	pubs []Publisher
	log  *zap.SugaredLogger

	mu      sync.Mutex
	dropped uint64
	done    chan struct{}
	once    sync.Once
}

func NewOutbox(capacity int, log *zap.SugaredLogger, pubs ...Publisher) *Outbox {
	if capacity <= 0 {
		capacity = 256
	}
	return &Outbox{
		ch:   make(chan []Order, capacity),
		pubs: pubs,
		log:  log,
		done: make(chan struct{}),
	}
}

// Run drains the outbox until Close. Call in its own goroutine.
func (ob *Outbox) Run() {
	for {
		select {
		case batch := <-ob.ch:
			for _, p := range ob.pubs {
				p.PublishOrders(batch)
			}
		case <-ob.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case batch := <-ob.ch:
					for _, p := range ob.pubs {
						p.PublishOrders(batch)
					}
				default:
					return
				}
			}
		}
	}
}

// Enqueue hands a changed-order batch to the dispatcher without blocking.
// If the outbox is full, the oldest pending batch is evicted to make room.
func (ob *Outbox) Enqueue(batch []Order) {
	if len(batch) == 0 {
		return
	}
	for {
		select {
		case ob.ch <- batch:
			return
		default:
		}
		select {
		case <-ob.ch:
			ob.mu.Lock()
			ob.dropped++
			ob.mu.Unlock()
			if ob.log != nil {
				ob.log.Warnw("outbox_overflow_dropped_batch")
			}
		default:
		}
	}
}

func (ob *Outbox) Dropped() uint64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.dropped
}

func (ob *Outbox) Close() {
	ob.once.Do(func() { close(ob.done) })
}
