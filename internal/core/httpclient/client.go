// Package httpclient configures the HTTP client used to call the data
// endpoint.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type Config struct {
	// Timeout bounds a whole fetch, including reading the body.
	Timeout   time.Duration
	UserAgent string
}

// NewOutbound creates the outbound client. Nothing here retries.
func NewOutbound(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "heatmap-example"
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: &userAgent{next: transport, ua: cfg.UserAgent},
		Timeout:   cfg.Timeout,
	}
}

type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (t *userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", t.ua)
	}
	return t.next.RoundTrip(r)
}
