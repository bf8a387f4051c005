package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"autoria_scraper/config"
	"autoria_scraper/models"
	"autoria_scraper/services"
	"autoria_scraper/storage"
)

// Spider walks the listing index of one site, fetches each detail page, and
// submits the extracted records to the ingestion pipeline. It knows nothing
// about phone enrichment; freshly inserted rows enter the queue as pending.
type Spider struct {
	cfg      *config.SiteConfig
	client   *http.Client
	pipeline *services.IngestPipeline
	journal  *storage.SQLiteStore
}

func NewSpider(cfg *config.SiteConfig, client *http.Client, pipeline *services.IngestPipeline, journal *storage.SQLiteStore) *Spider {
	return &Spider{cfg: cfg, client: client, pipeline: pipeline, journal: journal}
}

// Run crawls from the start URL (or the resume point of an interrupted run)
// until the last page, then flushes the pipeline. Per-page and per-listing
// failures are logged and skipped; only pipeline flush errors abort the run,
// since those mean submitted records are at risk.
func (s *Spider) Run(ctx context.Context) error {
	run := &models.ScrapeRun{SiteID: s.cfg.ID}
	if s.journal != nil {
		if _, err := s.journal.CreateRun(run); err != nil {
			log.Printf("Spider: journal run: %v", err)
		}
	}

	err := s.crawl(ctx, run)

	run.Status = models.RunStatusCompleted
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = err.Error()
	}
	if s.journal != nil {
		if jErr := s.journal.FinishRun(run); jErr != nil {
			log.Printf("Spider: finish run: %v", jErr)
		}
	}
	return err
}

func (s *Spider) crawl(ctx context.Context, run *models.ScrapeRun) error {
	pageURL := s.cfg.StartURL
	pageNum := 0

	if s.journal != nil {
		if resume, err := s.journal.ResumePage(s.cfg.ID); err == nil && resume > 0 {
			pageURL = s.pageURL(resume)
			pageNum = resume
			log.Printf("Spider: resuming %s at page %d", s.cfg.ID, resume)
		}
	}

	for pageURL != "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := s.fetch(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("index page %s: %w", pageURL, err)
		}

		links := s.listingLinks(doc, pageURL)
		run.PagesCrawled++
		run.ListingsFound += len(links)
		log.Printf("Spider: page %d, %d listings", pageNum+1, len(links))

		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.scrapeListing(ctx, link); err != nil {
				log.Printf("Spider: %s: %v", link, err)
				continue
			}
			run.ListingsSubmitted++
			s.delay()
		}

		pageNum++
		if s.journal != nil {
			if err := s.journal.SetResumePage(s.cfg.ID, pageNum); err != nil {
				log.Printf("Spider: save resume page: %v", err)
			}
		}

		pageURL = s.nextPageURL(doc, pageURL)
		s.delay()
	}

	if s.journal != nil {
		if err := s.journal.SetResumePage(s.cfg.ID, 0); err != nil {
			log.Printf("Spider: reset resume page: %v", err)
		}
	}

	// Records below the batch threshold must not wait for the next run.
	if err := s.pipeline.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

func (s *Spider) scrapeListing(ctx context.Context, listingURL string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", listingURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	found := time.Now()
	if d, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		found = d
	}

	rec, err := s.ParseListingPage(resp.Body, listingURL)
	if err != nil {
		return err
	}
	rec.DatetimeFound = found

	return s.pipeline.Submit(ctx, rec)
}

// ParseListingPage extracts one record from a detail page using the site's
// selectors. Missing fields stay nil; only the URL is mandatory.
func (s *Spider) ParseListingPage(r io.Reader, pageURL string) (models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return models.Listing{}, fmt.Errorf("parse html: %w", err)
	}

	sel := s.cfg.Selectors
	rec := models.Listing{URL: pageURL}

	rec.Title = textOrNil(doc, sel.Title)
	rec.PriceUSD = intOrNil(doc, sel.PriceUSD)
	rec.Odometer = odometerOrNil(doc, sel.Odometer)
	rec.Username = textOrNil(doc, sel.Username)
	rec.CarNumber = textOrNil(doc, sel.CarNumber)
	rec.CarVIN = textOrNil(doc, sel.CarVIN)

	if src, ok := doc.Find(sel.ImageURL).First().Attr("src"); ok && src != "" {
		rec.ImageURL = &src
	}
	if n := intOrNil(doc, sel.ImagesCount); n != nil && *n > 0 {
		rec.ImagesCount = *n
	}

	return rec, nil
}

func (s *Spider) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// listingLinks pulls the detail-page URLs out of an index page, resolved
// against the page they came from.
func (s *Spider) listingLinks(doc *goquery.Document, base string) []string {
	var links []string
	doc.Find(s.cfg.Selectors.ListingCard).Each(func(i int, card *goquery.Selection) {
		href, ok := card.Find(s.cfg.Selectors.ListingLink).First().Attr("href")
		if !ok || href == "" {
			return
		}
		if abs := resolveURL(base, href); abs != "" {
			links = append(links, abs)
		}
	})
	return links
}

func (s *Spider) nextPageURL(doc *goquery.Document, base string) string {
	href, ok := doc.Find(s.cfg.Selectors.NextPage).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	return resolveURL(base, href)
}

// pageURL rebuilds an index URL for a given page number, used on resume.
func (s *Spider) pageURL(page int) string {
	u, err := url.Parse(s.cfg.StartURL)
	if err != nil {
		return s.cfg.StartURL
	}
	q := u.Query()
	q.Set("page", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Spider) delay() {
	if s.cfg.RateLimitMS > 0 {
		time.Sleep(time.Duration(s.cfg.RateLimitMS) * time.Millisecond)
	}
}

func resolveURL(base, href string) string {
	baseU, err := url.Parse(base)
	if err != nil {
		return ""
	}
	hrefU, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseU.ResolveReference(hrefU).String()
}

func textOrNil(doc *goquery.Document, selector string) *string {
	if selector == "" {
		return nil
	}
	text := strings.TrimSpace(doc.Find(selector).First().Text())
	if text == "" {
		return nil
	}
	return &text
}

func intOrNil(doc *goquery.Document, selector string) *int {
	text := textOrNil(doc, selector)
	if text == nil {
		return nil
	}
	n, ok := allDigits(*text)
	if !ok {
		return nil
	}
	return &n
}

// odometerOrNil parses mileage like "95 тис. км" where the figure is in
// thousands of kilometers.
func odometerOrNil(doc *goquery.Document, selector string) *int {
	text := textOrNil(doc, selector)
	if text == nil {
		return nil
	}
	n, ok := allDigits(*text)
	if !ok {
		return nil
	}
	if strings.Contains(*text, "тис") {
		n *= 1000
	}
	return &n
}

// allDigits collects every digit in the string into one number, so
// formatted values like "11 500 $" parse as 11500.
func allDigits(text string) (int, bool) {
	var n int
	found := false
	for _, c := range text {
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			found = true
		}
	}
	return n, found
}
