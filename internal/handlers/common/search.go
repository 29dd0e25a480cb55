package common

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"millops/internal/response"
)

// SearchHit is one matching record.
type SearchHit struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// searchTarget is one entity type covered by GlobalSearch. The query takes
// the pattern once per searched column, then the limit.
type searchTarget struct {
	key     string
	columns int
	query   string
}

var searchTargets = []searchTarget{
	{"customers", 3, `SELECT id, name, status FROM customers
		WHERE id LIKE ? OR name LIKE ? OR contact_name LIKE ? ORDER BY name LIMIT ?`},
	{"suppliers", 3, `SELECT id, name, status FROM suppliers
		WHERE id LIKE ? OR name LIKE ? OR contact_name LIKE ? ORDER BY name LIMIT ?`},
	{"products", 3, `SELECT id, sku || ' ' || name, CASE WHEN active = 1 THEN 'active' ELSE 'inactive' END FROM products
		WHERE sku LIKE ? OR name LIKE ? OR description LIKE ? ORDER BY sku LIMIT ?`},
	{"invoices", 3, `SELECT i.id, i.id || ' ' || COALESCE(c.name, i.customer_id), i.status FROM sales_invoices i
		LEFT JOIN customers c ON c.id = i.customer_id
		WHERE i.id LIKE ? OR c.name LIKE ? OR i.notes LIKE ? ORDER BY i.invoice_date DESC LIMIT ?`},
	{"purchases", 3, `SELECT p.id, p.id || ' ' || COALESCE(s.name, p.supplier_id), p.status FROM purchases p
		LEFT JOIN suppliers s ON s.id = p.supplier_id
		WHERE p.id LIKE ? OR p.reference LIKE ? OR s.name LIKE ? ORDER BY p.purchase_date DESC LIMIT ?`},
	{"vehicles", 3, `SELECT id, registration || ' ' || make || ' ' || model, status FROM vehicles
		WHERE id LIKE ? OR registration LIKE ? OR model LIKE ? ORDER BY registration LIMIT ?`},
	{"trips", 3, `SELECT id, origin || ' to ' || destination, status FROM trips
		WHERE id LIKE ? OR origin LIKE ? OR destination LIKE ? ORDER BY planned_date DESC LIMIT ?`},
}

// GlobalSearch matches ?q against ids and names across the main records.
// Results are grouped by type, at most ?limit (default 20) per type.
func (h *Handler) GlobalSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	out := make(map[string][]SearchHit, len(searchTargets))
	if q == "" {
		for _, t := range searchTargets {
			out[t.key] = []SearchHit{}
		}
		response.JSONMeta(w, out, 0, 1, limit)
		return
	}

	total := 0
	for _, t := range searchTargets {
		hits, err := h.search(r.Context(), t, "%"+escapeLike(q)+"%", limit)
		if err != nil {
			response.Fail(w, r, err)
			return
		}
		out[t.key] = hits
		total += len(hits)
	}
	response.JSONMeta(w, out, total, 1, limit)
}

func (h *Handler) search(ctx context.Context, t searchTarget, pattern string, limit int) ([]SearchHit, error) {
	args := make([]any, 0, t.columns+1)
	for i := 0; i < t.columns; i++ {
		args = append(args, pattern)
	}
	args = append(args, limit)
	query := strings.ReplaceAll(t.query, "LIKE ?", `LIKE ? ESCAPE '\'`)
	rows, err := h.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := []SearchHit{}
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.ID, &hit.Title, &hit.Status); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
