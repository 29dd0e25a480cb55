package scraper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"millops/internal/config"
	"millops/internal/events"
	"millops/internal/scraper"
	"millops/internal/testutil"
)

const lineUp = `<html><body>
<table id="lineup">
  <thead><tr><th>Vessel</th><th>Origin</th><th>Destination</th><th>Tonnes</th><th>ETA</th></tr></thead>
  <tbody>
    <tr><td>MV Golden  Grain</td><td>Port Adelaide</td><td>Jakarta</td><td>32,500</td><td>2026-05-03</td></tr>
    <tr><td>Ocean Harvest</td><td>Vancouver</td><td>Yokohama</td><td>48 000 MT</td><td>12/05/2026</td></tr>
    <tr><td>Prairie Star</td><td>Thunder Bay</td><td>Rotterdam</td><td>TBA</td><td>14 May 2026</td></tr>
    <tr><td>Short Row</td><td>Geelong</td></tr>
    <tr><td>Baltic Wind</td><td>Novorossiysk</td><td>Alexandria</td><td>60,000 t</td><td>soon</td></tr>
  </tbody>
</table>
</body></html>`

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return nil
}
func (r *recorder) Close() error { return nil }

func TestParse(t *testing.T) {
	res, err := scraper.Parse(strings.NewReader(lineUp), "#lineup tr")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []scraper.Row{
		{Vessel: "MV Golden Grain", Origin: "Port Adelaide", Destination: "Jakarta", QuantityTonnes: 32500, Date: "2026-05-03"},
		{Vessel: "Ocean Harvest", Origin: "Vancouver", Destination: "Yokohama", QuantityTonnes: 48000, Date: "2026-05-12"},
	}
	if diff := cmp.Diff(want, res.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if res.Skipped != 3 {
		t.Errorf("Expected 3 skipped rows, got %d", res.Skipped)
	}

	odd := `<table><tr><td>Night Tide</td><td>Odessa</td><td>Izmir</td><td>NaN</td><td>2026-05-04</td></tr>
		<tr><td>Far Reach</td><td>Odessa</td><td>Izmir</td><td>Infinity</td><td>2026-05-05</td></tr></table>`
	res, err = scraper.Parse(strings.NewReader(odd), "tr")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Rows) != 0 || res.Skipped != 2 {
		t.Errorf("Expected non-numeric tonnages skipped, got rows=%d skipped=%d", len(res.Rows), res.Skipped)
	}

	if _, err := scraper.Parse(strings.NewReader(lineUp), "table.missing tr"); err == nil {
		t.Error("Expected error when selector matches nothing")
	}
}

func TestParseQuantityAndDate(t *testing.T) {
	quantities := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12,500", 12500, true},
		{"3,250.5 MT", 3250.5, true},
		{"7 000 tonnes", 7000, true},
		{"", 0, false},
		{"-40", 0, false},
		{"lots", 0, false},
		{"NaN", 0, false},
		{"inf", 0, false},
		{"Infinity", 0, false},
		{"0x1p10", 0, false},
		{"1e3", 0, false},
		{"12.", 0, false},
		{"1e400", 0, false},
	}
	for _, tt := range quantities {
		got, err := scraper.ParseQuantity(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseQuantity(%q) = %v, %v; expected %v ok=%v", tt.in, got, err, tt.want, tt.ok)
		}
	}

	dates := []struct {
		in, want string
	}{
		{"2026-05-03", "2026-05-03"},
		{"03/05/2026", "2026-05-03"},
		{"3.05.2026", ""},
		{"03.05.2026", "2026-05-03"},
		{"May 3, 2026", "2026-05-03"},
		{"3 May 2026", "2026-05-03"},
		{"03-May-2026", "2026-05-03"},
	}
	for _, tt := range dates {
		got, err := scraper.ParseDate(tt.in)
		if tt.want == "" {
			if err == nil {
				t.Errorf("Expected ParseDate(%q) to fail, got %s", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDate(%q) = %q, %v; expected %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRunStoresAndUpserts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	page := lineUp
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	pub := &recorder{}
	s := scraper.New(db, pub, zap.NewNop())
	src := config.ScrapeSource{Name: "port-lineup", URL: srv.URL, Selector: "#lineup tbody tr"}

	run, err := s.Run(ctx, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotUA != scraper.DefaultUserAgent {
		t.Errorf("Expected User-Agent %q, got %q", scraper.DefaultUserAgent, gotUA)
	}
	if run.RowsParsed != 2 || run.RowsSkipped != 3 || run.Error != "" || run.FinishedAt == nil {
		t.Errorf("Unexpected run %+v", run)
	}

	page = strings.Replace(lineUp, "32,500", "33,000", 1)
	if _, err := s.Run(ctx, src); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	list, err := scraper.ListShipments(ctx, db, scraper.ShipmentFilter{Source: "port-lineup"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected upsert to keep 2 shipments, got %d", len(list))
	}
	if list[0].Vessel != "Ocean Harvest" || list[1].QuantityTonnes != 33000 {
		t.Errorf("Expected latest first and updated tonnage, got %+v", list)
	}

	filtered, _ := scraper.ListShipments(ctx, db, scraper.ShipmentFilter{Destination: "jakarta", To: "2026-05-10"})
	if len(filtered) != 1 {
		t.Errorf("Expected 1 shipment to Jakarta, got %d", len(filtered))
	}

	if len(pub.got) != 2 || pub.got[0].Type != events.ScrapeFinished {
		t.Errorf("Expected two scrape.finished events, got %+v", pub.got)
	}
}

func TestRunRecordsFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pub := &recorder{}
	s := scraper.New(db, pub, zap.NewNop())
	runs, err := s.RunAll(ctx, []config.ScrapeSource{
		{Name: "down", URL: srv.URL},
		{Name: "unset"},
	})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("Expected status 503 error, got %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected both sources attempted, got %d", len(runs))
	}

	stored, err := scraper.ListRuns(ctx, db, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[0].Source != "unset" || stored[1].Error == "" {
		t.Errorf("Expected two failed runs recorded, got %+v", stored)
	}

	var p events.ScrapePayload
	if len(pub.got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(pub.got))
	}
	if err := pub.got[0].Decode(&p); err != nil || p.Error == "" {
		t.Errorf("Expected failure in payload, got %+v (%v)", p, err)
	}
}
