package order

import "testing"

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"Bid", Bid, false},
		{"B", Bid, false},
		{"Ask", Ask, false},
		{"A", Ask, false},
		{"buy", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSide(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSide(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		legal    bool
	}{
		{StatusOpen, StatusFilled, true},
		{StatusOpen, StatusCancelled, true},
		{StatusOpen, StatusTriggered, true},
		{StatusTriggered, StatusFilled, true},
		{StatusTriggered, StatusCancelled, true},
		{StatusTriggered, StatusOpen, false},
		{StatusFilled, StatusOpen, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusFilled, false},
		{StatusCancelled, StatusOpen, false},
		// Re-observing the same status is always legal.
		{StatusOpen, StatusOpen, true},
		{StatusFilled, StatusFilled, true},
		{StatusCancelled, StatusCancelled, true},
		{StatusTriggered, StatusTriggered, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.legal {
			t.Errorf("%s -> %s: CanTransition = %v, want %v", tt.from, tt.to, got, tt.legal)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusOpen.IsTerminal() || StatusTriggered.IsTerminal() {
		t.Error("open/triggered must not be terminal")
	}
	if !StatusFilled.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Error("filled/cancelled must be terminal")
	}
}

func TestParseStatusAcceptsBothSpellings(t *testing.T) {
	for _, in := range []string{"cancelled", "canceled"} {
		got, err := ParseStatus(in)
		if err != nil || got != StatusCancelled {
			t.Errorf("ParseStatus(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseStatus("resting"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestNormalizeOwner(t *testing.T) {
	got, err := NormalizeOwner("0x1234567890abcdef1234567890abcdef12345678")
	if err != nil {
		t.Fatal(err)
	}
	if got != "0x1234567890AbcdEF1234567890aBcdef12345678" {
		t.Errorf("checksummed owner = %s", got)
	}
	if _, err := NormalizeOwner("alice"); err == nil {
		t.Error("expected error for non-hex owner")
	}
}

func TestLiquidity(t *testing.T) {
	o := Order{Price: 50000, Size: 0.5}
	if o.Liquidity() != 25000 {
		t.Errorf("Liquidity = %v, want 25000", o.Liquidity())
	}
}
