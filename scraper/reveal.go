package scraper

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"autoria_scraper/config"
)

// maskMarker is what auto.ria shows in data-phone-number until the reveal
// click has been processed client-side.
const maskMarker = "xxx"

// PhoneRevealer drives one headless browser session to expose a listing's
// phone number. The number is injected client-side after clicking the
// reveal link, so static HTML never contains it. One revealer per worker;
// the session lives as long as the revealer.
type PhoneRevealer struct {
	cfg     *config.SiteConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

func NewPhoneRevealer(cfg *config.SiteConfig) (*PhoneRevealer, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &PhoneRevealer{cfg: cfg, pw: pw, browser: browser, page: page}, nil
}

// Reveal navigates to the listing, clicks the phone-show link, and waits
// until the phone attribute no longer carries the mask. The context
// deadline bounds every wait; an expired deadline fails the job, the
// session stays usable for the next one.
func (r *PhoneRevealer) Reveal(ctx context.Context, listingURL string) (string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	budget := func() float64 {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			ms = 1
		}
		return float64(ms)
	}

	if _, err := r.page.Goto(listingURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(budget()),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", fmt.Errorf("goto: %w", err)
	}

	span := r.page.Locator(r.cfg.Selectors.PhoneSpan).First()
	if err := span.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(budget()),
	}); err != nil {
		return "", fmt.Errorf("phone element: %w", err)
	}

	// The click can fail on some layouts while the number is still
	// revealed through another widget, so a failure here is not final.
	link := r.page.Locator(r.cfg.Selectors.PhoneShow).First()
	if visible, _ := link.IsVisible(); visible {
		if err := link.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(budget())}); err != nil {
			log.Printf("Reveal: click failed on %s: %v", listingURL, err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("reveal timed out: %w", err)
		}

		attr, err := span.GetAttribute("data-phone-number")
		if err == nil && attr != "" && !strings.Contains(attr, maskMarker) {
			return attr, nil
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("phone still masked after deadline")
		}
		r.page.WaitForTimeout(250)
	}
}

// Close releases the browser session.
func (r *PhoneRevealer) Close() {
	if r.page != nil {
		r.page.Close()
	}
	if r.browser != nil {
		r.browser.Close()
	}
	if r.pw != nil {
		r.pw.Stop()
	}
}
