package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SymbolFilter is the per-symbol acceptance rule applied during extraction.
type SymbolFilter struct {
	Symbol string `json:"symbol"`
	// MinLiquidity rejects orders whose price*size notional falls below it.
	MinLiquidity float64 `json:"minLiquidity"`
	// MaxPriceDeviation rejects orders whose price strays more than this
	// fraction from RefPrice. Zero disables the band check. Corrupt or
	// partially-written log lines tend to fail exactly this check.
	MaxPriceDeviation float64 `json:"maxPriceDeviation"`
	RefPrice          float64 `json:"refPrice"`
}

// Filters is a read-only snapshot of the symbol configuration. An empty map
// accepts every symbol; a non-empty map rejects symbols without an entry.
type Filters map[string]SymbolFilter

// Accepts applies the documented default plus the per-symbol numeric checks.
// The liquidity floor only judges sized events: cancel, fill and trigger
// records carry size zero and must still reach the merge path.
func (f Filters) Accepts(symbol string, price, size float64) bool {
	if len(f) == 0 {
		return true
	}
	sf, ok := f[symbol]
	if !ok {
		return false
	}
	if sf.MinLiquidity > 0 && size > 0 && price*size < sf.MinLiquidity {
		return false
	}
	if sf.MaxPriceDeviation > 0 && sf.RefPrice > 0 {
		dev := (price - sf.RefPrice) / sf.RefPrice
		if dev < 0 {
			dev = -dev
		}
		if dev > sf.MaxPriceDeviation {
			return false
		}
	}
	return true
}

type fileFormat struct {
	Symbols []SymbolFilter `json:"symbols"`
}

// Manager owns the filter config file. Readers get an atomic snapshot via
// Filters(); the file is re-read when its mtime advances, so external edits
// are picked up without a restart.
type Manager struct {
	path string
	log  *zap.SugaredLogger

	mu      sync.RWMutex
	filters Filters
	mtime   time.Time
}

func NewManager(path string, log *zap.SugaredLogger) *Manager {
	return &Manager{path: path, log: log, filters: Filters{}}
}

// Load reads the config file, creating an empty default when missing.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		if err := m.Save(nil); err != nil {
			return fmt.Errorf("create default config: %w", err)
		}
		if m.log != nil {
			m.log.Infow("config_created_default", "path", m.path)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("parse config %s: %w", m.path, err)
	}

	filters := make(Filters, len(ff.Symbols))
	for _, sf := range ff.Symbols {
		filters[sf.Symbol] = sf
	}

	info, _ := os.Stat(m.path)

	m.mu.Lock()
	m.filters = filters
	if info != nil {
		m.mtime = info.ModTime()
	}
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infow("config_loaded", "path", m.path, "symbols", len(filters))
	}
	return nil
}

// Save replaces the config file and the in-memory snapshot.
func (m *Manager) Save(symbols []SymbolFilter) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileFormat{Symbols: symbols}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	filters := make(Filters, len(symbols))
	for _, sf := range symbols {
		filters[sf.Symbol] = sf
	}
	info, _ := os.Stat(m.path)

	m.mu.Lock()
	m.filters = filters
	if info != nil {
		m.mtime = info.ModTime()
	}
	m.mu.Unlock()
	return nil
}

// Filters returns the current snapshot. Safe for concurrent use; the map is
// never mutated after publication.
func (m *Manager) Filters() Filters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filters
}

// Symbols returns the configured filters in file order-independent form.
func (m *Manager) Symbols() []SymbolFilter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SymbolFilter, 0, len(m.filters))
	for _, sf := range m.filters {
		out = append(out, sf)
	}
	return out
}

// MaybeReload re-reads the file when its mtime has advanced since the last
// load. Called from the watcher's poll cadence; cheap when nothing changed.
func (m *Manager) MaybeReload() {
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.RLock()
	stale := info.ModTime().After(m.mtime)
	m.mu.RUnlock()
	if !stale {
		return
	}
	if err := m.Load(); err != nil && m.log != nil {
		m.log.Warnw("config_reload_failed", "err", err)
	}
}
