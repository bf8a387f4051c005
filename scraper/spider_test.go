package scraper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"autoria_scraper/config"
	"autoria_scraper/models"
	"autoria_scraper/services"
	"autoria_scraper/storage"
)

func openFixture(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func fixtureDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(openFixture(t, name))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func testSpider() *Spider {
	return NewSpider(config.DefaultAutoRiaSite(), nil, nil, nil)
}

func TestParseListingPage(t *testing.T) {
	s := testSpider()
	pageURL := "https://auto.ria.com/uk/auto_audi_q7_508005.html"

	rec, err := s.ParseListingPage(openFixture(t, "listing_detail.html"), pageURL)
	if err != nil {
		t.Fatalf("ParseListingPage: %v", err)
	}

	if rec.URL != pageURL {
		t.Fatalf("url = %q", rec.URL)
	}
	if rec.Title == nil || *rec.Title != "Audi Q7 2011" {
		t.Fatalf("title = %v", rec.Title)
	}
	if rec.PriceUSD == nil || *rec.PriceUSD != 11500 {
		t.Fatalf("price_usd = %v", rec.PriceUSD)
	}
	if rec.Odometer == nil || *rec.Odometer != 95000 {
		t.Fatalf("odometer = %v, want 95000", rec.Odometer)
	}
	if rec.Username == nil || *rec.Username != "Олександр" {
		t.Fatalf("username = %v", rec.Username)
	}
	if rec.ImageURL == nil || *rec.ImageURL != "https://cdn.riastatic.com/photosnew/auto/photo/audi_q7__508005486f.jpg" {
		t.Fatalf("image_url = %v", rec.ImageURL)
	}
	if rec.ImagesCount != 14 {
		t.Fatalf("images_count = %d, want 14", rec.ImagesCount)
	}
	if rec.CarNumber == nil || *rec.CarNumber != "АХ 0717 СВ" {
		t.Fatalf("car_number = %v", rec.CarNumber)
	}
	if rec.CarVIN == nil || *rec.CarVIN != "WAUZZZ4L7BD011111" {
		t.Fatalf("car_vin = %v", rec.CarVIN)
	}

	// Phone fields never come from scraping; the workers own them.
	if rec.PhoneNumber != nil {
		t.Fatalf("phone_number = %v, want nil", rec.PhoneNumber)
	}
}

func TestParseListingPageMissingFields(t *testing.T) {
	s := testSpider()

	rec, err := s.ParseListingPage(openFixture(t, "index_page.html"), "https://auto.ria.com/uk/auto_1.html")
	if err != nil {
		t.Fatalf("ParseListingPage: %v", err)
	}
	if rec.Title != nil || rec.PriceUSD != nil || rec.Odometer != nil {
		t.Fatalf("fields parsed from unrelated page: %+v", rec)
	}
	if rec.URL == "" {
		t.Fatal("url dropped")
	}
}

func TestListingLinks(t *testing.T) {
	s := testSpider()
	doc := fixtureDoc(t, "index_page.html")

	links := s.listingLinks(doc, "https://auto.ria.com/uk/car/used/")
	want := []string{
		"https://auto.ria.com/uk/auto_audi_q7_508005.html",
		"https://auto.ria.com/uk/auto_bmw_x5_509921.html",
	}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("links[%d] = %s, want %s", i, links[i], want[i])
		}
	}
}

func TestNextPageURL(t *testing.T) {
	s := testSpider()
	doc := fixtureDoc(t, "index_page.html")

	next := s.nextPageURL(doc, "https://auto.ria.com/uk/car/used/")
	if next != "https://auto.ria.com/uk/car/used/?page=2" {
		t.Fatalf("next = %q", next)
	}
}

func TestNextPageURLLastPage(t *testing.T) {
	s := testSpider()
	doc := fixtureDoc(t, "listing_detail.html")

	if next := s.nextPageURL(doc, "https://auto.ria.com/uk/car/used/"); next != "" {
		t.Fatalf("next = %q on a page without pagination", next)
	}
}

func TestPageURL(t *testing.T) {
	s := testSpider()
	if got := s.pageURL(3); got != "https://auto.ria.com/uk/car/used/?page=3" {
		t.Fatalf("pageURL(3) = %q", got)
	}
}

func TestOdometerParsing(t *testing.T) {
	tests := []struct {
		html string
		want int
	}{
		{`<div class="base-information"><span class="size18">95</span> тис. км</div>`, 95000},
		{`<div class="base-information"><span class="size18">250</span> тис. км</div>`, 250000},
		{`<div class="base-information">178000 км</div>`, 178000},
	}

	s := testSpider()
	for _, tc := range tests {
		rec, err := s.ParseListingPage(strings.NewReader(tc.html), "https://auto.ria.com/uk/auto_1.html")
		if err != nil {
			t.Fatalf("ParseListingPage: %v", err)
		}
		if rec.Odometer == nil || *rec.Odometer != tc.want {
			t.Fatalf("odometer for %q = %v, want %d", tc.html, rec.Odometer, tc.want)
		}
	}
}

const detailPage = `<html><body>
<h1 class="head">Test Car</h1>
<div class="price_value"><strong>5 000 $</strong></div>
</body></html>`

func indexPage(links []string, next string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		b.WriteString(`<div class="content-bar"><a class="address" href="` + l + `">car</a></div>`)
	}
	if next != "" {
		b.WriteString(`<a class="page-link next" href="` + next + `">next</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type recordingWriter struct {
	mu   sync.Mutex
	urls []string
}

func (w *recordingWriter) InsertListings(ctx context.Context, listings []models.Listing) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, l := range listings {
		w.urls = append(w.urls, l.URL)
	}
	return int64(len(listings)), nil
}

func TestSpiderRun(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/used/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			io.WriteString(w, indexPage([]string{"/car/3"}, ""))
			return
		}
		io.WriteString(w, indexPage([]string{"/car/1", "/car/2"}, "/used/?page=2"))
	})
	mux.HandleFunc("/car/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, detailPage)
	})

	cfg := config.DefaultAutoRiaSite()
	cfg.StartURL = srv.URL + "/used/"
	cfg.RateLimitMS = 0

	journal, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer journal.Close()

	writer := &recordingWriter{}
	pipeline := services.NewIngestPipeline(writer, 100)
	spider := NewSpider(cfg, srv.Client(), pipeline, journal)

	if err := spider.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writer.mu.Lock()
	got := len(writer.urls)
	writer.mu.Unlock()
	if got != 3 {
		t.Fatalf("persisted %d listings, want 3: %v", got, writer.urls)
	}

	// A completed run resets the resume point.
	page, err := journal.ResumePage(cfg.ID)
	if err != nil {
		t.Fatalf("ResumePage: %v", err)
	}
	if page != 0 {
		t.Fatalf("resume page = %d after completed run, want 0", page)
	}

	runs, err := journal.RecentRuns(1)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	if run.PagesCrawled != 2 || run.ListingsFound != 3 || run.ListingsSubmitted != 3 {
		t.Fatalf("run counters = %d/%d/%d, want 2/3/3",
			run.PagesCrawled, run.ListingsFound, run.ListingsSubmitted)
	}
}

func TestSpiderResumesFromJournal(t *testing.T) {
	var pagesServed []string
	var mu sync.Mutex

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/used/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pagesServed = append(pagesServed, r.URL.RequestURI())
		mu.Unlock()
		io.WriteString(w, indexPage(nil, ""))
	})

	cfg := config.DefaultAutoRiaSite()
	cfg.StartURL = srv.URL + "/used/"
	cfg.RateLimitMS = 0

	journal, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer journal.Close()
	if err := journal.SetResumePage(cfg.ID, 4); err != nil {
		t.Fatalf("SetResumePage: %v", err)
	}

	pipeline := services.NewIngestPipeline(&recordingWriter{}, 100)
	spider := NewSpider(cfg, srv.Client(), pipeline, journal)

	if err := spider.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pagesServed) != 1 || pagesServed[0] != "/used/?page=4" {
		t.Fatalf("pages served = %v, want [/used/?page=4]", pagesServed)
	}
}
