package httputil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"autoria_scraper/config"
)

func TestClientDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		io.WriteString(w, "landed")
	}))
	defer srv.Close()

	client := NewScrapingClient(&config.ProxyConfig{})

	resp, err := client.Get(srv.URL + "/old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	// Redirects surface as-is so the spider can skip moved listings.
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/new" {
		t.Fatalf("location = %q", loc)
	}
}

func TestClientProxyConfig(t *testing.T) {
	client := NewScrapingClient(&config.ProxyConfig{URL: "http://127.0.0.1:8080"})

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport type %T", client.Transport)
	}
	if transport.Proxy == nil {
		t.Fatal("proxy not configured")
	}

	req, _ := http.NewRequest("GET", "https://auto.ria.com/", nil)
	proxyURL, err := transport.Proxy(req)
	if err != nil {
		t.Fatalf("proxy func: %v", err)
	}
	if proxyURL == nil || proxyURL.Host != "127.0.0.1:8080" {
		t.Fatalf("proxy url = %v", proxyURL)
	}
}

func TestClientBadProxyFallsBack(t *testing.T) {
	client := NewScrapingClient(&config.ProxyConfig{URL: "://bad"})
	if client == nil {
		t.Fatal("no client for malformed proxy url")
	}
}
