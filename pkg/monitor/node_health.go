package monitor

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// NodeHealth reports whether the node itself is still writing logs,
// independent of whether our tail loop is keeping up. The two signals
// together distinguish "healthy but busy" from "stuck".
type NodeHealth struct {
	Status          string     `json:"status"` // healthy | unhealthy | unavailable
	LastLogUpdate   *time.Time `json:"lastLogUpdate"`
	LogsAccessible  bool       `json:"logDirectoryAccessible"`
	ThresholdMillis int64      `json:"thresholdMillis"`
	CheckedAt       time.Time  `json:"checkTimestamp"`
}

type NodeMonitor struct {
	logsPath  string
	threshold time.Duration
	log       *zap.SugaredLogger
}

func NewNodeMonitor(logsPath string, threshold time.Duration, log *zap.SugaredLogger) *NodeMonitor {
	return &NodeMonitor{logsPath: logsPath, threshold: threshold, log: log}
}

// Check walks the log tree for the newest mtime and compares it against the
// silence threshold.
func (m *NodeMonitor) Check() NodeHealth {
	now := time.Now().UTC()
	health := NodeHealth{
		Status:          "unavailable",
		ThresholdMillis: m.threshold.Milliseconds(),
		CheckedAt:       now,
	}

	if _, err := os.Stat(m.logsPath); err != nil {
		return health
	}
	health.LogsAccessible = true

	latest := m.lastUpdate()
	if latest == nil {
		return health
	}
	health.LastLogUpdate = latest
	if now.Sub(*latest) <= m.threshold {
		health.Status = "healthy"
	} else {
		health.Status = "unhealthy"
	}
	return health
}

// lastUpdate finds the newest file mtime under the log root. Unreadable
// entries (permission races, files deleted mid-walk) are skipped.
func (m *NodeMonitor) lastUpdate() *time.Time {
	var latest *time.Time
	_ = filepath.WalkDir(m.logsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mt := info.ModTime().UTC()
		if latest == nil || mt.After(*latest) {
			latest = &mt
		}
		return nil
	})
	return latest
}
