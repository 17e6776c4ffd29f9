package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/qzavyer/HyperNodeServer/pkg/util"
)

// CurrentFileSource lets the cleaner ask which file the tail loop holds open
// so it is never deleted underneath it.
type CurrentFileSource interface {
	CurrentFile() string
}

type Config struct {
	NodeLogsPath      string
	HyperliquidData   string
	Interval          time.Duration
	MaxReplicaDirs    int
	MaxCheckpointDirs int
}

// Cleaner prunes the node's unbounded log output: old date directories under
// node_order_statuses/hourly, superseded hour files in the newest one,
// replica_cmds and EVM checkpoint directories past their retention counts.
type Cleaner struct {
	cfg     Config
	current CurrentFileSource
	clock   util.Clock
	log     *zap.SugaredLogger
}

var datePattern = regexp.MustCompile(`^\d{8}$`)

func NewCleaner(cfg Config, current CurrentFileSource, clock util.Clock, log *zap.SugaredLogger) *Cleaner {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Cleaner{cfg: cfg, current: current, clock: clock, log: log}
}

// Run performs cleanup on the configured interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.cfg.Interval):
			dirs, files := c.Cleanup()
			c.log.Infow("cleanup_done", "removed_dirs", dirs, "removed_files", files)
		}
	}
}

// Cleanup runs one pass and returns (directories removed, files removed).
// Individual failures are logged and skipped; a pass never aborts early.
func (c *Cleaner) Cleanup() (int, int) {
	removedDirs, latest := c.cleanupDateDirs()
	removedFiles := 0
	if latest != "" {
		removedFiles = c.cleanupHourFiles(latest)
	}
	removedDirs += c.pruneNewestN(filepath.Join(c.cfg.NodeLogsPath, "replica_cmds"), c.cfg.MaxReplicaDirs)
	if c.cfg.HyperliquidData != "" {
		removedDirs += c.pruneNewestN(
			filepath.Join(c.cfg.HyperliquidData, "evm_db_hub_slow", "checkpoint"),
			c.cfg.MaxCheckpointDirs)
	}
	return removedDirs, removedFiles
}

// cleanupDateDirs removes every date directory except the newest and returns
// the newest one's path.
func (c *Cleaner) cleanupDateDirs() (int, string) {
	hourly := filepath.Join(c.cfg.NodeLogsPath, "node_order_statuses", "hourly")
	entries, err := os.ReadDir(hourly)
	if err != nil {
		return 0, ""
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() && datePattern.MatchString(e.Name()) {
			dates = append(dates, e.Name())
		}
	}
	if len(dates) == 0 {
		return 0, ""
	}
	sort.Strings(dates)
	latest := filepath.Join(hourly, dates[len(dates)-1])

	removed := 0
	for _, d := range dates[:len(dates)-1] {
		path := filepath.Join(hourly, d)
		if err := os.RemoveAll(path); err != nil {
			c.log.Warnw("cleanup_dir_failed", "dir", path, "err", err)
			continue
		}
		removed++
	}
	return removed, latest
}

// cleanupHourFiles removes superseded hour files in the newest date dir,
// keeping the max-hour file and whatever file the tail currently has open.
func (c *Cleaner) cleanupHourFiles(dayDir string) int {
	files, err := os.ReadDir(dayDir)
	if err != nil {
		return 0
	}

	bestHour := -1
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if h, err := strconv.Atoi(f.Name()); err == nil && h >= 0 && h <= 23 {
			if h > bestHour {
				bestHour = h
			}
		}
	}
	if bestHour < 0 {
		return 0
	}

	protected := ""
	if c.current != nil {
		protected = c.current.CurrentFile()
	}

	removed := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		h, err := strconv.Atoi(f.Name())
		if err != nil || h < 0 || h > 23 || h == bestHour {
			continue
		}
		path := filepath.Join(dayDir, f.Name())
		if path == protected {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.log.Warnw("cleanup_file_failed", "file", path, "err", err)
			continue
		}
		removed++
	}
	return removed
}

// pruneNewestN keeps the lexicographically newest keep entries of dir and
// removes the rest.
func (c *Cleaner) pruneNewestN(dir string, keep int) int {
	if keep <= 0 {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return 0
	}
	sort.Strings(names)

	removed := 0
	for _, n := range names[:len(names)-keep] {
		path := filepath.Join(dir, n)
		if err := os.RemoveAll(path); err != nil {
			c.log.Warnw("cleanup_dir_failed", "dir", path, "err", err)
			continue
		}
		removed++
	}
	return removed
}
