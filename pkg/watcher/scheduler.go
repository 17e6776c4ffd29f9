package watcher

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qzavyer/HyperNodeServer/pkg/config"
	"github.com/qzavyer/HyperNodeServer/pkg/order"
)

// PoolState tracks the scheduler's worker pool through a batch cycle.
// Recovering is reached only from a deadline expiry and always returns to
// Idle once the pool has been recreated.
type PoolState int32

const (
	PoolIdle PoolState = iota
	PoolDispatched
	PoolAwaiting
	PoolRecovering
)

type SchedulerConfig struct {
	Workers             int // 0 means NumCPU clamped to [Floor, Ceiling]
	WorkerFloor         int
	WorkerCeiling       int
	SequentialThreshold int
	MinChunkSize        int
	BatchDeadline       time.Duration
}

func (c *SchedulerConfig) normalize() {
	if c.WorkerFloor <= 0 {
		c.WorkerFloor = 2
	}
	if c.WorkerCeiling < c.WorkerFloor {
		c.WorkerCeiling = c.WorkerFloor
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Workers < c.WorkerFloor {
		c.Workers = c.WorkerFloor
	}
	if c.Workers > c.WorkerCeiling {
		c.Workers = c.WorkerCeiling
	}
	if c.SequentialThreshold <= 0 {
		c.SequentialThreshold = 50
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 500
	}
	if c.BatchDeadline <= 0 {
		c.BatchDeadline = 5 * time.Second
	}
}

type job struct {
	lines   []string
	filters config.Filters
	slot    *sliceResult
	wg      *sync.WaitGroup
}

type sliceResult struct {
	orders []order.Order
	failed int
}

type workerPool struct {
	jobs   chan job
	cancel context.CancelFunc
}

// Scheduler splits a buffered batch into contiguous, size-balanced partitions
// and parses them on a fixed worker pool. All partitions of a batch are
// joined as one unit under a single deadline; a batch that misses it is
// discarded wholesale and the pool is assumed stuck and rebuilt.
type Scheduler struct {
	cfg       SchedulerConfig
	extractor Extractor
	extractFn func(line string, filters config.Filters) (order.Order, bool)
	log       *zap.SugaredLogger

	mu    sync.Mutex
	pool  *workerPool
	state PoolState

	failedBatches uint64
	poolRestarts  uint64
}

func NewScheduler(cfg SchedulerConfig, log *zap.SugaredLogger) *Scheduler {
	cfg.normalize()
	s := &Scheduler{cfg: cfg, log: log}
	s.extractFn = s.extractor.Extract
	s.pool = s.startPool()
	return s
}

func (s *Scheduler) startPool() *workerPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &workerPool{
		jobs:   make(chan job, s.cfg.Workers),
		cancel: cancel,
	}
	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(ctx, p.jobs)
	}
	return p
}

func (s *Scheduler) worker(ctx context.Context, jobs <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			for _, line := range j.lines {
				if o, ok := s.extractFn(line, j.filters); ok {
					j.slot.orders = append(j.slot.orders, o)
				} else {
					j.slot.failed++
				}
			}
			j.wg.Done()
		}
	}
}

// ProcessBatch parses lines into orders. Small batches run in the calling
// goroutine; larger ones are partitioned across the pool. Returns the parsed
// orders (no cross-partition ordering) and the per-line failure count.
func (s *Scheduler) ProcessBatch(lines []string, filters config.Filters) ([]order.Order, int) {
	if len(lines) == 0 {
		return nil, 0
	}
	if len(lines) < s.cfg.SequentialThreshold {
		res := &sliceResult{}
		for _, line := range lines {
			if o, ok := s.extractFn(line, filters); ok {
				res.orders = append(res.orders, o)
			} else {
				res.failed++
			}
		}
		return res.orders, res.failed
	}

	parts := Partition(len(lines), s.cfg.Workers, s.cfg.MinChunkSize)

	s.mu.Lock()
	pool := s.pool
	s.state = PoolDispatched
	s.mu.Unlock()

	var wg sync.WaitGroup
	slots := make([]*sliceResult, len(parts))
	offset := 0
	for i, n := range parts {
		slots[i] = &sliceResult{}
		wg.Add(1)
		pool.jobs <- job{
			lines:   lines[offset : offset+n],
			filters: filters,
			slot:    slots[i],
			wg:      &wg,
		}
		offset += n
	}

	// One joined wait for the whole group under one deadline. Waiting on the
	// slices individually can stall forever when a worker dies mid-slice.
	s.setState(PoolAwaiting)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.BatchDeadline)
	defer timer.Stop()

	select {
	case <-done:
		s.setState(PoolIdle)
		var orders []order.Order
		var failed int
		for _, slot := range slots {
			orders = append(orders, slot.orders...)
			failed += slot.failed
		}
		return orders, failed

	case <-timer.C:
		// A worker that missed the deadline may be stuck; its partial results
		// are discarded rather than partially applied, and the pool is
		// rebuilt so the next batch starts clean.
		s.recoverPool()
		s.mu.Lock()
		s.failedBatches++
		s.mu.Unlock()
		if s.log != nil {
			s.log.Errorw("batch_deadline_exceeded",
				"lines", len(lines),
				"partitions", len(parts),
				"deadline", s.cfg.BatchDeadline)
		}
		return nil, len(lines)
	}
}

func (s *Scheduler) recoverPool() {
	s.mu.Lock()
	s.state = PoolRecovering
	old := s.pool
	s.mu.Unlock()

	old.cancel()
	fresh := s.startPool()

	s.mu.Lock()
	s.pool = fresh
	s.poolRestarts++
	s.state = PoolIdle
	s.mu.Unlock()
}

func (s *Scheduler) setState(st PoolState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) State() PoolState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) FailedBatches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedBatches
}

func (s *Scheduler) PoolRestarts() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poolRestarts
}

func (s *Scheduler) Workers() int { return s.cfg.Workers }

// Deadline is the joined-wait bound; the tail loop derives its own cycle
// timeout from it.
func (s *Scheduler) Deadline() time.Duration { return s.cfg.BatchDeadline }

func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.cancel()
}

// Partition splits n lines into exactly min(workers, max(1, n/minChunk))
// contiguous slice lengths whose sizes differ by at most one, remainder
// spread across the leading slices. Producing even one extra partition would
// overflow the pool's job buffer, so the count is exact by construction.
func Partition(n, workers, minChunk int) []int {
	if n <= 0 {
		return nil
	}
	chunks := n / minChunk
	if chunks < 1 {
		chunks = 1
	}
	if chunks > workers {
		chunks = workers
	}

	base := n / chunks
	rem := n % chunks
	parts := make([]int, chunks)
	for i := range parts {
		parts[i] = base
		if i < rem {
			parts[i]++
		}
	}
	return parts
}
