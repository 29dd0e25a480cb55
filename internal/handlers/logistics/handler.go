// Package logistics serves the fleet, trips, shipments and the scraped
// wheat shipment feed.
package logistics

import (
	"millops/internal/config"
	"millops/internal/handlers/common"
	"millops/internal/scraper"
)

type Handler struct {
	common.Base
	Scraper *scraper.Scraper
	Sources []config.ScrapeSource
}
