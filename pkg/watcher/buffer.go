package watcher

import (
	"sync"

	"go.uber.org/zap"
)

// Buffer is the append-only queue of decoded lines awaiting a processing
// cycle. SnapshotAndClear is atomic with respect to Append: the snapshot
// holds exactly the lines appended before the call, and appends racing with
// it land in the fresh buffer, never in the snapshot and never lost. Clearing
// happens at snapshot time, not after processing, so a slow cycle cannot let
// the buffer grow without bound on top of lines it is already draining.
type Buffer struct {
	mu    sync.Mutex
	lines []string

	criticalSize int
	batchCap     int

	dropped uint64
	log     *zap.SugaredLogger
}

func NewBuffer(criticalSize, batchCap int, log *zap.SugaredLogger) *Buffer {
	if batchCap <= 0 || batchCap > criticalSize {
		batchCap = criticalSize
	}
	return &Buffer{
		criticalSize: criticalSize,
		batchCap:     batchCap,
		log:          log,
	}
}

func (b *Buffer) Append(lines []string) {
	if len(lines) == 0 {
		return
	}
	b.mu.Lock()
	b.lines = append(b.lines, lines...)
	b.mu.Unlock()
}

// SnapshotAndClear swaps the accumulated lines out and leaves an empty
// buffer behind. When the buffer has exceeded its critical size, only the
// newest batchCap lines are returned; the older excess is discarded and
// counted. Freshness wins over completeness under sustained overload.
func (b *Buffer) SnapshotAndClear() []string {
	b.mu.Lock()
	snapshot := b.lines
	b.lines = nil
	b.mu.Unlock()

	if b.criticalSize > 0 && len(snapshot) > b.criticalSize {
		excess := len(snapshot) - b.batchCap
		snapshot = snapshot[excess:]
		b.mu.Lock()
		b.dropped += uint64(excess)
		b.mu.Unlock()
		if b.log != nil {
			b.log.Warnw("buffer_overflow", "dropped", excess, "kept", len(snapshot))
		}
	}
	return snapshot
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Dropped is the cumulative count of lines discarded by the overflow policy.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
