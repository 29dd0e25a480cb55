package parties

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"millops/internal/database"
	"millops/internal/models"
)

// OpenItem is one unpaid document feeding an aging report.
type OpenItem struct {
	PartyID     string
	PartyName   string
	DocDate     string
	DueDate     string
	Outstanding decimal.Decimal
}

// DaysOverdue returns how many days past due the item is on asOf. Items
// without a due date age from their document date. Items not yet due
// report zero.
func DaysOverdue(item OpenItem, asOf time.Time) int {
	ref := item.DueDate
	if ref == "" {
		ref = item.DocDate
	}
	due, err := time.Parse(database.DateLayout, ref)
	if err != nil {
		return 0
	}
	days := int(asOf.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func bucket(row *models.AgingRow, days int, amt decimal.Decimal) {
	switch {
	case days <= 30:
		row.Current = row.Current.Add(amt)
	case days <= 60:
		row.Days31_60 = row.Days31_60.Add(amt)
	case days <= 90:
		row.Days61_90 = row.Days61_90.Add(amt)
	default:
		row.Over90 = row.Over90.Add(amt)
	}
	row.Total = row.Total.Add(amt)
}

func zeroRow(id, name string) models.AgingRow {
	return models.AgingRow{PartyID: id, PartyName: name, Current: decimal.Zero, Days31_60: decimal.Zero,
		Days61_90: decimal.Zero, Over90: decimal.Zero, Total: decimal.Zero}
}

// BuildAging groups open items per party into 0-30, 31-60, 61-90 and 90+
// day buckets as of asOf (YYYY-MM-DD; blank means today).
func BuildAging(asOf string, items []OpenItem) models.AgingReport {
	if asOf == "" {
		asOf = database.Today()
	}
	at, err := time.Parse(database.DateLayout, asOf)
	if err != nil {
		at = time.Now()
	}
	rows := map[string]*models.AgingRow{}
	totals := zeroRow("", "Total")
	for _, it := range items {
		if !it.Outstanding.IsPositive() {
			continue
		}
		row, ok := rows[it.PartyID]
		if !ok {
			r := zeroRow(it.PartyID, it.PartyName)
			row = &r
			rows[it.PartyID] = row
		}
		days := DaysOverdue(it, at)
		bucket(row, days, it.Outstanding)
		bucket(&totals, days, it.Outstanding)
	}

	report := models.AgingReport{AsOf: asOf, Rows: make([]models.AgingRow, 0, len(rows)), Totals: totals}
	for _, r := range rows {
		report.Rows = append(report.Rows, *r)
	}
	sort.Slice(report.Rows, func(i, j int) bool { return report.Rows[i].PartyName < report.Rows[j].PartyName })
	return report
}
