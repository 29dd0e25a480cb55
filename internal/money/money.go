// Package money holds the decimal arithmetic shared by every posting path.
// Amounts are rounded half away from zero to two places at line level.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept on stored amounts.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round2 rounds d to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse parses an amount, treating blank input as zero.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// Totals is the net/tax/gross triple carried on purchases and invoices.
type Totals struct {
	Net   decimal.Decimal `json:"net"`
	Tax   decimal.Decimal `json:"tax"`
	Gross decimal.Decimal `json:"gross"`
}

// Add accumulates one line into t.
func (t *Totals) Add(net, tax decimal.Decimal) {
	t.Net = t.Net.Add(net)
	t.Tax = t.Tax.Add(tax)
	t.Gross = t.Net.Add(t.Tax)
}

// LineTotals returns the rounded net and tax for qty units at unit price,
// taxed at ratePct percent.
func LineTotals(qty float64, unit, ratePct decimal.Decimal) (net, tax decimal.Decimal) {
	net = Round2(decimal.NewFromFloat(qty).Mul(unit))
	tax = Round2(net.Mul(ratePct).Div(hundred))
	return net, tax
}

// ApplyPercent raises (or lowers, for negative pct) d by pct percent.
func ApplyPercent(d, pct decimal.Decimal) decimal.Decimal {
	return Round2(d.Add(d.Mul(pct).Div(hundred)))
}

// MovingAverage returns the new average unit cost after receiving inQty at
// inCost on top of onHand at avgCost. Result keeps four places so repeated
// receipts do not drift.
func MovingAverage(onHand float64, avgCost decimal.Decimal, inQty float64, inCost decimal.Decimal) decimal.Decimal {
	if onHand < 0 {
		onHand = 0
	}
	total := onHand + inQty
	if total <= 0 {
		return avgCost
	}
	value := decimal.NewFromFloat(onHand).Mul(avgCost).Add(decimal.NewFromFloat(inQty).Mul(inCost))
	return value.Div(decimal.NewFromFloat(total)).Round(4)
}

// ReverseAverage undoes MovingAverage: it returns the average unit cost
// left after outQty units received at outCost are taken back out of onHand
// units at avgCost. Emptying the stock keeps the last average.
func ReverseAverage(onHand float64, avgCost decimal.Decimal, outQty float64, outCost decimal.Decimal) decimal.Decimal {
	remaining := onHand - outQty
	if remaining <= 0 {
		return avgCost
	}
	value := decimal.NewFromFloat(onHand).Mul(avgCost).Sub(decimal.NewFromFloat(outQty).Mul(outCost))
	if value.IsNegative() {
		value = decimal.Zero
	}
	return value.Div(decimal.NewFromFloat(remaining)).Round(4)
}

// Sum adds every amount.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
