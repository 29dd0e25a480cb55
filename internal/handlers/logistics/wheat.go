package logistics

import (
	"net/http"
	"strconv"

	"millops/internal/audit"
	"millops/internal/config"
	"millops/internal/handlers/common"
	"millops/internal/response"
	"millops/internal/scraper"
)

// ListWheatShipments filters by ?source, ?destination (substring), ?from,
// ?to and ?limit.
func (h *Handler) ListWheatShipments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := common.Date(w, r, "from", "")
	if !ok {
		return
	}
	to, ok := common.Date(w, r, "to", "")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := scraper.ListShipments(r.Context(), h.DB, scraper.ShipmentFilter{
		Source: q.Get("source"), Destination: q.Get("destination"), From: from, To: to, Limit: limit,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// ListScrapeRuns returns recent scrape runs.
func (h *Handler) ListScrapeRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := scraper.ListRuns(r.Context(), h.DB, limit)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// Scrape runs every configured source now, or only ?source when given.
// Each source's run is reported whether it succeeded or not.
func (h *Handler) Scrape(w http.ResponseWriter, r *http.Request) {
	if h.Scraper == nil || len(h.Sources) == 0 {
		response.Err(w, "no scrape sources configured", http.StatusConflict)
		return
	}
	sources := h.Sources
	if name := r.URL.Query().Get("source"); name != "" {
		sources = nil
		for _, s := range h.Sources {
			if s.Name == name {
				sources = []config.ScrapeSource{s}
			}
		}
		if sources == nil {
			response.Err(w, "unknown scrape source: "+name, http.StatusNotFound)
			return
		}
	}
	runs, _ := h.Scraper.RunAll(r.Context(), sources)
	parsed := 0
	for _, run := range runs {
		parsed += run.RowsParsed
	}
	h.Audit(r, audit.ActionImport, "wheat_shipments", "scrape",
		"Scraped "+strconv.Itoa(len(runs))+" sources, "+strconv.Itoa(parsed)+" rows")
	response.JSON(w, runs)
}
