package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFiltersAccepts(t *testing.T) {
	configured := Filters{
		"BTC": {Symbol: "BTC", MinLiquidity: 1000, MaxPriceDeviation: 0.1, RefPrice: 50000},
		"ETH": {Symbol: "ETH"},
	}

	tests := []struct {
		name    string
		filters Filters
		symbol  string
		price   float64
		size    float64
		want    bool
	}{
		{"empty config accepts everything", Filters{}, "ANY", 1, 1, true},
		{"unconfigured symbol rejected", configured, "SOL", 100, 1, false},
		{"no thresholds accepts", configured, "ETH", 3000, 0.001, true},
		{"above min liquidity", configured, "BTC", 50000, 1, true},
		{"below min liquidity", configured, "BTC", 50000, 0.00001, false},
		{"zero size skips liquidity floor", configured, "BTC", 50000, 0, true},
		{"inside deviation band", configured, "BTC", 54000, 1, true},
		{"above deviation band", configured, "BTC", 56000, 1, false},
		{"below deviation band", configured, "BTC", 44000, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Accepts(tt.symbol, tt.price, tt.size); got != tt.want {
				t.Errorf("Accepts(%s, %v, %v) = %v, want %v",
					tt.symbol, tt.price, tt.size, got, tt.want)
			}
		})
	}
}

func TestManagerLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManager(path, zap.NewNop().Sugar())

	if err := m.Load(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file not created: %v", err)
	}
	if len(m.Filters()) != 0 {
		t.Errorf("default filters not empty: %v", m.Filters())
	}
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManager(path, zap.NewNop().Sugar())

	symbols := []SymbolFilter{
		{Symbol: "BTC", MinLiquidity: 500, MaxPriceDeviation: 0.2, RefPrice: 60000},
		{Symbol: "ETH", MinLiquidity: 100},
	}
	if err := m.Save(symbols); err != nil {
		t.Fatal(err)
	}

	fresh := NewManager(path, zap.NewNop().Sugar())
	if err := fresh.Load(); err != nil {
		t.Fatal(err)
	}
	filters := fresh.Filters()
	if len(filters) != 2 {
		t.Fatalf("loaded %d filters, want 2", len(filters))
	}
	if btc := filters["BTC"]; btc.MinLiquidity != 500 || btc.RefPrice != 60000 {
		t.Errorf("BTC filter = %+v", btc)
	}
	if got := fresh.Symbols(); len(got) != 2 {
		t.Errorf("Symbols returned %d entries, want 2", len(got))
	}
}

func TestManagerLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, zap.NewNop().Sugar())
	if err := m.Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestManagerMaybeReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManager(path, zap.NewNop().Sugar())
	if err := m.Save([]SymbolFilter{{Symbol: "BTC"}}); err != nil {
		t.Fatal(err)
	}

	// External edit with a strictly newer mtime.
	data := []byte(`{"symbols":[{"symbol":"BTC"},{"symbol":"ETH"}]}`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	m.MaybeReload()
	if len(m.Filters()) != 2 {
		t.Errorf("reload not picked up, filters = %v", m.Filters())
	}

	// Unchanged mtime: reload is a no-op even if content differs.
	if err := os.WriteFile(path, []byte(`{"symbols":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	m.MaybeReload()
	if len(m.Filters()) != 2 {
		t.Errorf("unchanged mtime should not reload, filters = %v", m.Filters())
	}
}
