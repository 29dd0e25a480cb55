package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"millops/internal/models"
)

func TestSelectRule(t *testing.T) {
	p := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	rules := []models.PriceRule{
		{ID: 1, Tier: "standard", MinQty: 1, UnitPrice: p("30"), EffectiveFrom: "2026-01-01"},
		{ID: 2, Tier: "standard", MinQty: 100, UnitPrice: p("27"), EffectiveFrom: "2026-01-01"},
		{ID: 3, Tier: "standard", MinQty: 500, UnitPrice: p("25"), EffectiveFrom: "2026-01-01", EffectiveTo: "2026-03-31"},
		{ID: 4, Tier: "wholesale", MinQty: 1, UnitPrice: p("26"), EffectiveFrom: "2026-01-01"},
		{ID: 5, Tier: "wholesale", MinQty: 1, UnitPrice: p("24"), EffectiveFrom: "2026-06-01"},
		{ID: 6, Tier: "standard", MinQty: 100, UnitPrice: p("28"), EffectiveFrom: "2026-01-01"},
	}

	tests := []struct {
		name   string
		tier   string
		qty    float64
		date   string
		wantID int
		found  bool
	}{
		{"single unit", "standard", 1, "2026-02-01", 1, true},
		{"quantity break", "standard", 150, "2026-02-01", 6, true},
		{"top break in window", "standard", 800, "2026-02-01", 3, true},
		{"top break expired", "standard", 800, "2026-04-01", 6, true},
		{"below every break", "standard", 0.5, "2026-02-01", 0, false},
		{"newer rule wins", "wholesale", 10, "2026-07-01", 5, true},
		{"newer rule not yet effective", "wholesale", 10, "2026-05-31", 4, true},
		{"before any rule", "standard", 10, "2025-12-31", 0, false},
		{"unknown tier", "retail", 10, "2026-02-01", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := selectRule(rules, tt.tier, tt.qty, tt.date)
			if ok != tt.found {
				t.Fatalf("Expected found=%v, got %v", tt.found, ok)
			}
			if ok && r.ID != tt.wantID {
				t.Errorf("Expected rule %d, got %d", tt.wantID, r.ID)
			}
		})
	}
}
