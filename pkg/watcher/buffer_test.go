package watcher

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestBufferSnapshotAndClear(t *testing.T) {
	b := NewBuffer(100, 50, zap.NewNop().Sugar())

	b.Append([]string{"a", "b"})
	b.Append([]string{"c"})
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}

	snap := b.SnapshotAndClear()
	if len(snap) != 3 {
		t.Errorf("snapshot has %d lines, want 3", len(snap))
	}
	if b.Len() != 0 {
		t.Errorf("buffer not cleared, Len = %d", b.Len())
	}
	if got := b.SnapshotAndClear(); len(got) != 0 {
		t.Errorf("second snapshot should be empty, got %d lines", len(got))
	}
}

func TestBufferAppendAfterSnapshotLandsInFreshBuffer(t *testing.T) {
	b := NewBuffer(100, 50, zap.NewNop().Sugar())

	b.Append([]string{"old"})
	snap := b.SnapshotAndClear()
	b.Append([]string{"new"})

	if len(snap) != 1 || snap[0] != "old" {
		t.Errorf("snapshot = %v, want [old]", snap)
	}
	next := b.SnapshotAndClear()
	if len(next) != 1 || next[0] != "new" {
		t.Errorf("next snapshot = %v, want [new]", next)
	}
}

func TestBufferOverflowKeepsNewest(t *testing.T) {
	b := NewBuffer(10, 5, zap.NewNop().Sugar())

	lines := make([]string, 12)
	for i := range lines {
		lines[i] = fmt.Sprintf("line-%d", i)
	}
	b.Append(lines)

	snap := b.SnapshotAndClear()
	if len(snap) != 5 {
		t.Fatalf("kept %d lines, want 5", len(snap))
	}
	// Newest survive, oldest discarded.
	if snap[0] != "line-7" || snap[4] != "line-11" {
		t.Errorf("unexpected window: first=%s last=%s", snap[0], snap[4])
	}
	if b.Dropped() != 7 {
		t.Errorf("Dropped = %d, want 7", b.Dropped())
	}
}

func TestBufferOverflowCountAccumulates(t *testing.T) {
	b := NewBuffer(2, 1, zap.NewNop().Sugar())

	b.Append([]string{"a", "b", "c"})
	b.SnapshotAndClear()
	b.Append([]string{"d", "e", "f"})
	b.SnapshotAndClear()

	if b.Dropped() != 4 {
		t.Errorf("Dropped = %d, want 4", b.Dropped())
	}
}

func TestBufferConcurrentAppend(t *testing.T) {
	b := NewBuffer(1_000_000, 1_000_000, zap.NewNop().Sugar())

	var wg sync.WaitGroup
	total := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append([]string{fmt.Sprintf("g%d-%d", g, i)})
			}
		}(g)
	}
	// Drain concurrently; every appended line must land in exactly one snapshot.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		total += len(b.SnapshotAndClear())
		select {
		case <-done:
			total += len(b.SnapshotAndClear())
			if total != 800 {
				t.Errorf("saw %d lines across snapshots, want 800", total)
			}
			return
		default:
		}
	}
}
