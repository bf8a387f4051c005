package httputil

import (
	"net/http"
	"net/url"
	"time"

	"autoria_scraper/config"
)

// NewScrapingClient builds the HTTP client the spider uses against the
// target site: optionally proxied, short timeout, and redirects surfaced
// instead of followed (a redirected listing URL usually means it is gone).
func NewScrapingClient(proxyCfg *config.ProxyConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
