package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qzavyer/HyperNodeServer/pkg/config"
	"github.com/qzavyer/HyperNodeServer/pkg/order"
	"github.com/qzavyer/HyperNodeServer/pkg/util"
)

// Cursor persists the tail position across restarts. Losing it means
// reprocessing the current file from its start, degraded but not fatal.
type Cursor interface {
	LoadCursor() (path string, offset int64, err error)
	SaveCursor(path string, offset int64) error
}

// MergeSink applies a parsed batch to shared order state and returns the
// records that actually changed.
type MergeSink interface {
	Apply(orders []order.Order) []order.Order
}

// FilterSource supplies the current symbol filter snapshot.
type FilterSource interface {
	Filters() config.Filters
	MaybeReload()
}

type TailConfig struct {
	NodeLogsPath  string
	PollInterval  time.Duration
	BatchInterval time.Duration
	ReadChunkSize int
}

// trackedFile is the single log file currently being tailed. Owned
// exclusively by the tail loop.
type trackedFile struct {
	path   string
	file   *os.File
	offset int64
	ident  os.FileInfo // identity marker for rotation detection
}

// Status is the health-check view of the loop.
type Status struct {
	Running       bool      `json:"running"`
	CurrentFile   string    `json:"currentFile"`
	Offset        int64     `json:"offset"`
	LastReadTime  time.Time `json:"lastReadTime"`
	BufferLen     int       `json:"bufferLen"`
	DroppedLines  uint64    `json:"droppedLines"`
	FailedBatches uint64    `json:"failedBatches"`
	PoolRestarts  uint64    `json:"poolRestarts"`
	ParsedOrders  uint64    `json:"parsedOrders"`
	ParseFailures uint64    `json:"parseFailures"`
}

// TailLoop is the top-level ingestion driver: one goroutine coordinating a
// read timer and a batch timer. Reads append decoded lines to the buffer;
// on the batch timer the buffer is drained atomically and handed to the
// scheduler, and merged results flow to the sink and outbox.
type TailLoop struct {
	cfg       TailConfig
	decoder   LineDecoder
	buffer    *Buffer
	scheduler *Scheduler
	sink      MergeSink
	outbox    *order.Outbox
	filters   FilterSource
	cursor    Cursor
	clock     util.Clock
	log       *zap.SugaredLogger

	cycleTimeout time.Duration

	tracked *trackedFile
	carry   []byte

	mu            sync.Mutex
	running       bool
	lastReadTime  time.Time
	parsedOrders  uint64
	parseFailures uint64
}

// NewTailLoop wires the loop. The cycle timeout is derived from the
// scheduler's deadline plus a margin as a structural invariant: a loop
// timeout at or below the join deadline would race the scheduler's own
// cancellation and destroy results about to complete.
func NewTailLoop(
	cfg TailConfig,
	buffer *Buffer,
	scheduler *Scheduler,
	sink MergeSink,
	outbox *order.Outbox,
	filters FilterSource,
	cursor Cursor,
	clock util.Clock,
	margin time.Duration,
	log *zap.SugaredLogger,
) (*TailLoop, error) {
	if margin <= 0 {
		return nil, fmt.Errorf("cycle margin must be positive, got %s", margin)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 100 * time.Millisecond
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = 16 * 1024
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &TailLoop{
		cfg:          cfg,
		buffer:       buffer,
		scheduler:    scheduler,
		sink:         sink,
		outbox:       outbox,
		filters:      filters,
		cursor:       cursor,
		clock:        clock,
		log:          log,
		cycleTimeout: scheduler.Deadline() + margin,
	}, nil
}

// Run drives the loop until ctx is cancelled. Errors inside a tick are
// logged and absorbed; nothing originating in the core terminates the loop.
func (t *TailLoop) Run(ctx context.Context) {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		t.closeTracked()
	}()

	if err := t.resume(); err != nil {
		t.log.Warnw("tail_resume_failed", "err", err)
	}

	readCh := t.clock.After(t.cfg.PollInterval)
	batchCh := t.clock.After(t.cfg.BatchInterval)

	for {
		select {
		case <-ctx.Done():
			t.runBatchCycle() // final drain
			return
		case <-readCh:
			t.safeTick(t.runReadTick, "read_tick")
			readCh = t.clock.After(t.cfg.PollInterval)
		case <-batchCh:
			t.safeTick(t.runBatchCycle, "batch_cycle")
			batchCh = t.clock.After(t.cfg.BatchInterval)
		}
	}
}

// safeTick absorbs a panicking cycle so the next tick still runs.
func (t *TailLoop) safeTick(fn func(), name string) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorw("tick_panic", "tick", name, "panic", r)
		}
	}()
	fn()
}

// resume restores the cursor position when the persisted path is still the
// current file; otherwise tailing starts at offset 0 of whatever file
// discovery finds.
func (t *TailLoop) resume() error {
	if t.cursor == nil {
		return nil
	}
	path, offset, err := t.cursor.LoadCursor()
	if err != nil || path == "" {
		return err
	}
	current, err := findCurrentFile(t.cfg.NodeLogsPath)
	if err != nil || current != path {
		return err
	}
	if err := t.openFile(path, offset); err != nil {
		return err
	}
	t.log.Infow("tail_resumed", "file", path, "offset", offset)
	return nil
}

func (t *TailLoop) runReadTick() {
	if t.tracked == nil {
		path, err := findCurrentFile(t.cfg.NodeLogsPath)
		if err != nil || path == "" {
			return // transient: retried next tick
		}
		if err := t.openFile(path, 0); err != nil {
			t.log.Warnw("tail_open_failed", "file", path, "err", err)
			return
		}
		t.log.Infow("tail_started", "file", path)
	}

	if t.checkRotation() {
		return // switched files; next tick reads from the new one
	}
	if err := t.readNewBytes(); err != nil {
		t.log.Warnw("tail_read_failed", "file", t.tracked.path, "err", err)
	}
}

// checkRotation detects the node advancing to a new log segment, or the
// current file being replaced/truncated underneath us. Before switching,
// remaining tail bytes of the old file are consumed and a pending carry
// fragment is flushed as its final line.
func (t *TailLoop) checkRotation() bool {
	info, err := os.Stat(t.tracked.path)
	replaced := err != nil || !os.SameFile(info, t.tracked.ident) || info.Size() < t.tracked.offset

	next, ferr := findCurrentFile(t.cfg.NodeLogsPath)
	advanced := ferr == nil && next != "" && next != t.tracked.path

	if !replaced && !advanced {
		return false
	}

	if !replaced {
		// Old file is intact: drain whatever it still holds.
		if err := t.readNewBytes(); err != nil {
			t.log.Warnw("tail_final_read_failed", "file", t.tracked.path, "err", err)
		}
	}
	if line, ok := t.decoder.Flush(t.carry); ok {
		t.buffer.Append([]string{line})
	}
	t.carry = nil

	old := t.tracked.path
	t.closeTracked()

	target := next
	if target == "" || !advanced {
		target = old // same path, new identity (truncate/replace)
	}
	if err := t.openFile(target, 0); err != nil {
		t.log.Warnw("tail_rotate_open_failed", "file", target, "err", err)
		return true
	}
	t.saveCursor()
	t.log.Infow("tail_rotated", "from", old, "to", target)
	return true
}

func (t *TailLoop) openFile(path string, offset int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if offset > info.Size() {
		offset = 0
	}
	t.mu.Lock()
	t.tracked = &trackedFile{path: path, file: f, offset: offset, ident: info}
	t.mu.Unlock()
	return nil
}

func (t *TailLoop) closeTracked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracked != nil {
		t.tracked.file.Close()
		t.tracked = nil
	}
}

// readNewBytes pulls everything appended since the last read, decodes it and
// appends complete lines to the buffer. The offset advances by bytes
// consumed and the cursor is persisted once per successful read.
func (t *TailLoop) readNewBytes() error {
	chunk := make([]byte, t.cfg.ReadChunkSize)
	readAny := false
	for {
		n, err := t.tracked.file.ReadAt(chunk, t.tracked.offset)
		if n > 0 {
			readAny = true
			lines, carry := t.decoder.Decode(chunk[:n], t.carry)
			t.carry = carry
			t.buffer.Append(lines)
			t.mu.Lock()
			t.tracked.offset += int64(n)
			t.mu.Unlock()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if readAny {
		t.mu.Lock()
		t.lastReadTime = t.clock.Now()
		t.mu.Unlock()
		t.saveCursor()
	}
	return nil
}

func (t *TailLoop) saveCursor() {
	if t.cursor == nil || t.tracked == nil {
		return
	}
	if err := t.cursor.SaveCursor(t.tracked.path, t.tracked.offset); err != nil {
		t.log.Warnw("cursor_save_failed", "err", err)
	}
}

// runBatchCycle drains the buffer atomically, parses it on the scheduler and
// merges the result. The cycle's own wait is bounded by cycleTimeout, which
// construction guarantees exceeds the scheduler's join deadline.
func (t *TailLoop) runBatchCycle() {
	t.filters.MaybeReload()
	lines := t.buffer.SnapshotAndClear()
	if len(lines) == 0 {
		return
	}
	filters := t.filters.Filters()

	type result struct {
		orders []order.Order
		failed int
	}
	resCh := make(chan result, 1)
	go func() {
		orders, failed := t.scheduler.ProcessBatch(lines, filters)
		resCh <- result{orders, failed}
	}()

	var res result
	select {
	case res = <-resCh:
	case <-t.clock.After(t.cycleTimeout):
		// Should be unreachable: the scheduler's own deadline fires first.
		t.log.Errorw("cycle_timeout", "lines", len(lines))
		return
	}

	t.mu.Lock()
	t.parsedOrders += uint64(len(res.orders))
	t.parseFailures += uint64(res.failed)
	t.mu.Unlock()

	if len(res.orders) == 0 {
		return
	}
	changed := t.sink.Apply(res.orders)
	if len(changed) > 0 && t.outbox != nil {
		t.outbox.Enqueue(changed)
	}
}

func (t *TailLoop) CurrentFile() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracked == nil {
		return ""
	}
	return t.tracked.path
}

func (t *TailLoop) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{
		Running:       t.running,
		LastReadTime:  t.lastReadTime,
		BufferLen:     t.buffer.Len(),
		DroppedLines:  t.buffer.Dropped(),
		FailedBatches: t.scheduler.FailedBatches(),
		PoolRestarts:  t.scheduler.PoolRestarts(),
		ParsedOrders:  t.parsedOrders,
		ParseFailures: t.parseFailures,
	}
	if t.tracked != nil {
		st.CurrentFile = t.tracked.path
		st.Offset = t.tracked.offset
	}
	return st
}

var datePattern = regexp.MustCompile(`^\d{8}$`)

// findCurrentFile locates the file the node is writing now: the max-date
// directory under node_order_statuses/hourly, then the max-hour numeric file
// inside it.
func findCurrentFile(root string) (string, error) {
	hourly := filepath.Join(root, "node_order_statuses", "hourly")
	entries, err := os.ReadDir(hourly)
	if err != nil {
		return "", fmt.Errorf("read hourly dir: %w", err)
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() && datePattern.MatchString(e.Name()) {
			if _, err := time.Parse("20060102", e.Name()); err == nil {
				dates = append(dates, e.Name())
			}
		}
	}
	if len(dates) == 0 {
		return "", nil
	}
	sort.Strings(dates)
	dayDir := filepath.Join(hourly, dates[len(dates)-1])

	files, err := os.ReadDir(dayDir)
	if err != nil {
		return "", fmt.Errorf("read date dir: %w", err)
	}
	bestHour := -1
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		h, err := strconv.Atoi(f.Name())
		if err != nil || h < 0 || h > 23 {
			continue
		}
		if h > bestHour {
			bestHour = h
		}
	}
	if bestHour < 0 {
		return "", nil
	}
	return filepath.Join(dayDir, strconv.Itoa(bestHour)), nil
}
