package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOutbound_SetsUserAgentAndTimeout(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewOutbound(Config{Timeout: 2 * time.Second, UserAgent: "heatmap-test"})
	if c.Timeout != 2*time.Second {
		t.Fatalf("timeout=%v", c.Timeout)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = resp.Body.Close()
	if ua != "heatmap-test" {
		t.Fatalf("user-agent=%q", ua)
	}
}

func TestNewOutbound_Defaults(t *testing.T) {
	c := NewOutbound(Config{})
	if c.Timeout != 30*time.Second {
		t.Fatalf("timeout=%v want 30s", c.Timeout)
	}
}
