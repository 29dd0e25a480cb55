package common

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"millops/internal/response"
)

// CalendarEvent is one dated item on the operations calendar.
type CalendarEvent struct {
	Date  string `json:"date"`
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

// calendarSources each select (date, id, title) for dates between the two
// arguments.
var calendarSources = []struct {
	typ, color, query string
}{
	{"invoice_due", "green", `SELECT i.due_date, i.id, 'Due from ' || COALESCE(c.name, i.customer_id) || ': ' || i.gross_total
		FROM sales_invoices i LEFT JOIN customers c ON c.id = i.customer_id
		WHERE i.status IN ('posted','partially_paid') AND i.due_date BETWEEN ? AND ?`},
	{"purchase_due", "red", `SELECT p.due_date, p.id, 'Pay ' || COALESCE(s.name, p.supplier_id) || ': ' || p.gross_total
		FROM purchases p LEFT JOIN suppliers s ON s.id = p.supplier_id
		WHERE p.status IN ('posted','partially_paid') AND p.due_date BETWEEN ? AND ?`},
	{"trip", "blue", `SELECT planned_date, id, origin || ' to ' || destination
		FROM trips WHERE status = 'planned' AND planned_date BETWEEN ? AND ?`},
	{"licence_expiry", "orange", `SELECT licence_expiry, id, 'Licence expires: ' || name
		FROM drivers WHERE status = 'active' AND licence_expiry BETWEEN ? AND ?`},
	{"wheat_arrival", "purple", `SELECT shipment_date, CAST(id AS TEXT), vessel || ' to ' || destination
		FROM wheat_shipments WHERE shipment_date BETWEEN ? AND ?`},
}

// Calendar returns the dated items of ?year and ?month (default the
// current month), ordered by date.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	year, month := now.Year(), int(now.Month())
	if v, err := strconv.Atoi(r.URL.Query().Get("year")); err == nil {
		year = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("month")); err == nil {
		month = v
	}
	if month < 1 || month > 12 {
		response.Err(w, "month must be between 1 and 12", http.StatusBadRequest)
		return
	}
	start := fmt.Sprintf("%04d-%02d-01", year, month)
	end := fmt.Sprintf("%04d-%02d-31", year, month)

	events := []CalendarEvent{}
	for _, src := range calendarSources {
		rows, err := h.DB.QueryContext(r.Context(), src.query, start, end)
		if err != nil {
			response.Fail(w, r, err)
			return
		}
		for rows.Next() {
			e := CalendarEvent{Type: src.typ, Color: src.color}
			if err := rows.Scan(&e.Date, &e.ID, &e.Title); err != nil {
				rows.Close()
				response.Fail(w, r, err)
				return
			}
			events = append(events, e)
		}
		rows.Close()
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Date < events[j].Date })
	response.JSON(w, events)
}
