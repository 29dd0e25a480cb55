package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineTotals(t *testing.T) {
	tests := []struct {
		name             string
		qty              float64
		unit, rate       string
		wantNet, wantTax string
	}{
		{"whole units no tax", 10, "12.50", "0", "125", "0"},
		{"fractional qty", 2.5, "3.99", "15", "9.98", "1.5"},
		{"tax rounds half up", 1, "0.10", "5", "0.1", "0.01"},
		{"bulk tonnes", 1250.75, "310.40", "7.5", "388232.8", "29117.46"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, tax := LineTotals(tt.qty, d(tt.unit), d(tt.rate))
			if !net.Equal(d(tt.wantNet)) {
				t.Errorf("Expected net %s, got %s", tt.wantNet, net)
			}
			if !tax.Equal(d(tt.wantTax)) {
				t.Errorf("Expected tax %s, got %s", tt.wantTax, tax)
			}
		})
	}
}

func TestTotalsAdd(t *testing.T) {
	var tot Totals
	tot.Add(d("100.00"), d("15.00"))
	tot.Add(d("20.50"), d("3.08"))
	if !tot.Net.Equal(d("120.5")) || !tot.Tax.Equal(d("18.08")) || !tot.Gross.Equal(d("138.58")) {
		t.Errorf("Unexpected totals %+v", tot)
	}
}

func TestParse(t *testing.T) {
	if v, err := Parse(""); err != nil || !v.IsZero() {
		t.Errorf("Expected zero for blank, got %s, %v", v, err)
	}
	if v, err := Parse(" 1,234.50 "); err != nil || !v.Equal(d("1234.5")) {
		t.Errorf("Expected 1234.5, got %s, %v", v, err)
	}
	if _, err := Parse("twelve"); err == nil {
		t.Error("Expected error for non-numeric amount")
	}
}

func TestApplyPercent(t *testing.T) {
	if got := ApplyPercent(d("19.99"), d("10")); !got.Equal(d("21.99")) {
		t.Errorf("Expected 21.99, got %s", got)
	}
	if got := ApplyPercent(d("50"), d("-12.5")); !got.Equal(d("43.75")) {
		t.Errorf("Expected 43.75, got %s", got)
	}
}

func TestMovingAverage(t *testing.T) {
	// 100 @ 2.00 + 50 @ 2.60 = 330 / 150
	got := MovingAverage(100, d("2.00"), 50, d("2.60"))
	if !got.Equal(d("2.2")) {
		t.Errorf("Expected 2.2, got %s", got)
	}
	if got := MovingAverage(0, d("0"), 10, d("4.25")); !got.Equal(d("4.25")) {
		t.Errorf("Expected first receipt cost, got %s", got)
	}
	if got := MovingAverage(5, d("3"), 0, d("0")); !got.Equal(d("3")) {
		t.Errorf("Expected unchanged cost, got %s", got)
	}
}

func TestReverseAverage(t *testing.T) {
	// 150 @ 2.20 less the 50 @ 2.60 receipt leaves 100 @ 2.00
	if got := ReverseAverage(150, d("2.2"), 50, d("2.60")); !got.Equal(d("2")) {
		t.Errorf("Expected 2, got %s", got)
	}
	if got := ReverseAverage(50, d("2.6"), 50, d("2.60")); !got.Equal(d("2.6")) {
		t.Errorf("Expected last average kept when stock empties, got %s", got)
	}
	if got := ReverseAverage(10, d("1"), 5, d("5")); !got.Equal(d("0")) {
		t.Errorf("Expected average floored at zero, got %s", got)
	}
}
