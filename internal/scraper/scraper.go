// Package scraper pulls published wheat shipment tables from configured web
// pages into wheat_shipments.
package scraper

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"millops/internal/config"
	"millops/internal/database"
	"millops/internal/events"
	"millops/internal/models"
)

const (
	DefaultUserAgent = "millops-scraper/1.0 (+wheat shipment monitor)"
	DefaultTimeout   = 30 * time.Second
	DefaultSelector  = "table tbody tr"

	maxBody = 5 << 20
)

// Row is one parsed shipment row.
type Row struct {
	Vessel         string
	Origin         string
	Destination    string
	QuantityTonnes float64
	Date           string
}

// Result is what Parse found on a page.
type Result struct {
	Rows    []Row
	Skipped int
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	"02-Jan-2006",
}

// ParseDate accepts the date layouts seen on port line-up pages and returns
// the date as YYYY-MM-DD.
func ParseDate(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(database.DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognised date %q", s)
}

// plainNumber is digits with an optional decimal part, once separators and
// units are stripped.
var plainNumber = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseQuantity reads a tonnage such as "12,500", "12 500 t" or "3,250.5 MT".
func ParseQuantity(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, unit := range []string{"tonnes", "tons", "mt", "t"} {
		if strings.HasSuffix(s, unit) {
			s = strings.TrimSpace(strings.TrimSuffix(s, unit))
			break
		}
	}
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "'", "").Replace(s)
	if s == "" {
		return 0, errors.New("empty quantity")
	}
	if !plainNumber.MatchString(s) {
		return 0, fmt.Errorf("bad quantity %q", s)
	}
	q, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(q, 0) || math.IsNaN(q) {
		return 0, fmt.Errorf("bad quantity %q", s)
	}
	if q <= 0 {
		return 0, fmt.Errorf("quantity %q must be positive", s)
	}
	return q, nil
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// Parse extracts shipment rows from html. Each row selected by selector must
// carry five cells: vessel, origin port, destination, quantity and date.
// Header rows are ignored; any other row that cannot be read is skipped and
// counted.
func Parse(r io.Reader, selector string) (Result, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	rows := doc.Find(selector)
	if rows.Length() == 0 {
		return Result{}, fmt.Errorf("no rows match %q", selector)
	}

	res := Result{Rows: []Row{}}
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return // header
		}
		if cells.Length() < 5 {
			res.Skipped++
			return
		}
		vessel := cellText(cells.Eq(0))
		qty, qerr := ParseQuantity(cellText(cells.Eq(3)))
		date, derr := ParseDate(cellText(cells.Eq(4)))
		if vessel == "" || qerr != nil || derr != nil {
			res.Skipped++
			return
		}
		res.Rows = append(res.Rows, Row{
			Vessel:         vessel,
			Origin:         cellText(cells.Eq(1)),
			Destination:    cellText(cells.Eq(2)),
			QuantityTonnes: qty,
			Date:           date,
		})
	})
	return res, nil
}

// Scraper fetches configured sources and stores what it finds.
type Scraper struct {
	DB        *sql.DB
	Client    *http.Client
	Publisher events.Publisher
	Log       *zap.Logger
	UserAgent string
	Timeout   time.Duration
}

// New returns a scraper with default client settings.
func New(db *sql.DB, pub events.Publisher, log *zap.Logger) *Scraper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scraper{
		DB:        db,
		Client:    &http.Client{},
		Publisher: pub,
		Log:       log,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
	}
}

// Fetch downloads url. Any non-2xx status is an error.
func (s *Scraper) Fetch(ctx context.Context, url string) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	ua := s.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// Run scrapes one source and records the attempt in scrape_runs, whether it
// succeeded or not. A scrape.finished event is emitted either way.
func (s *Scraper) Run(ctx context.Context, src config.ScrapeSource) (models.ScrapeRun, error) {
	log := s.Log.With(zap.String("source", src.Name))
	run := models.ScrapeRun{Source: src.Name, StartedAt: database.Now()}
	res, err := s.scrape(ctx, src)
	run.RowsParsed = len(res.Rows)
	run.RowsSkipped = res.Skipped
	if err != nil {
		run.Error = err.Error()
	}

	finished := database.Now()
	run.FinishedAt = &finished
	out, dbErr := s.DB.ExecContext(ctx, `INSERT INTO scrape_runs (source, started_at, finished_at, rows_parsed, rows_skipped, error)
		VALUES (?, ?, ?, ?, ?, ?)`, run.Source, run.StartedAt, finished, run.RowsParsed, run.RowsSkipped, run.Error)
	if dbErr != nil {
		log.Error("record scrape run", zap.Error(dbErr))
	} else if id, idErr := out.LastInsertId(); idErr == nil {
		run.ID = int(id)
	}

	events.Emit(ctx, s.Publisher, log, events.ScrapeFinished, src.Name, events.ScrapePayload{
		Source: src.Name, Parsed: run.RowsParsed, Skipped: run.RowsSkipped, Error: run.Error,
	})
	if err != nil {
		log.Warn("scrape failed", zap.Error(err))
		return run, err
	}
	log.Info("scrape finished", zap.Int("parsed", run.RowsParsed), zap.Int("skipped", run.RowsSkipped))
	return run, dbErr
}

func (s *Scraper) scrape(ctx context.Context, src config.ScrapeSource) (Result, error) {
	if src.URL == "" {
		return Result{}, errors.New("source has no url")
	}
	body, err := s.Fetch(ctx, src.URL)
	if err != nil {
		return Result{}, err
	}
	res, err := Parse(bytes.NewReader(body), src.Selector)
	if err != nil {
		return res, err
	}
	if err := Store(ctx, s.DB, src.Name, res.Rows); err != nil {
		return res, err
	}
	return res, nil
}

// RunAll scrapes every source in turn. One failing source does not stop the
// others; the first error is returned.
func (s *Scraper) RunAll(ctx context.Context, sources []config.ScrapeSource) ([]models.ScrapeRun, error) {
	runs := []models.ScrapeRun{}
	var first error
	for _, src := range sources {
		run, err := s.Run(ctx, src)
		runs = append(runs, run)
		if err != nil && first == nil {
			first = fmt.Errorf("%s: %w", src.Name, err)
		}
	}
	return runs, first
}

// Loop runs RunAll every interval until ctx is done.
func (s *Scraper) Loop(ctx context.Context, sources []config.ScrapeSource, interval time.Duration) error {
	if interval <= 0 || len(sources) == 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, _ = s.RunAll(ctx, sources)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Store upserts rows for source in one transaction.
func Store(ctx context.Context, db *sql.DB, source string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	return database.WithTx(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO wheat_shipments (source, vessel, origin, destination, quantity_tonnes, shipment_date, scraped_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source, vessel, shipment_date) DO UPDATE SET
				origin = excluded.origin,
				destination = excluded.destination,
				quantity_tonnes = excluded.quantity_tonnes,
				scraped_at = excluded.scraped_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		now := database.Now()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, source, r.Vessel, r.Origin, r.Destination, r.QuantityTonnes, r.Date, now); err != nil {
				return fmt.Errorf("upsert %s %s: %w", r.Vessel, r.Date, err)
			}
		}
		return nil
	})
}

// ShipmentFilter narrows ListShipments.
type ShipmentFilter struct {
	Source      string
	Destination string
	From, To    string
	Limit       int
}

// ListShipments returns scraped shipments, latest date first.
func ListShipments(ctx context.Context, q database.DBTX, f ShipmentFilter) ([]models.WheatShipment, error) {
	query := `SELECT id, source, vessel, origin, destination, quantity_tonnes, shipment_date, COALESCE(scraped_at, '')
		FROM wheat_shipments WHERE 1=1`
	var args []any
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.Destination != "" {
		query += " AND destination LIKE ?"
		args = append(args, "%"+f.Destination+"%")
	}
	if f.From != "" {
		query += " AND shipment_date >= ?"
		args = append(args, f.From)
	}
	if f.To != "" {
		query += " AND shipment_date <= ?"
		args = append(args, f.To)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	query += " ORDER BY shipment_date DESC, vessel LIMIT ?"
	args = append(args, f.Limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wheat shipments: %w", err)
	}
	defer rows.Close()
	items := []models.WheatShipment{}
	for rows.Next() {
		var w models.WheatShipment
		if err := rows.Scan(&w.ID, &w.Source, &w.Vessel, &w.Origin, &w.Destination, &w.QuantityTonnes, &w.ShipmentDate, &w.ScrapedAt); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// ListRuns returns the most recent scrape runs.
func ListRuns(ctx context.Context, q database.DBTX, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	rows, err := q.QueryContext(ctx, `SELECT id, source, started_at, finished_at, rows_parsed, rows_skipped, error
		FROM scrape_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrape runs: %w", err)
	}
	defer rows.Close()
	items := []models.ScrapeRun{}
	for rows.Next() {
		var r models.ScrapeRun
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.StartedAt, &finished, &r.RowsParsed, &r.RowsSkipped, &r.Error); err != nil {
			return nil, err
		}
		r.FinishedAt = database.SP(finished)
		items = append(items, r)
	}
	return items, rows.Err()
}
