package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fakeReady struct {
	ready   bool
	clients int
}

func (f fakeReady) Ready() bool  { return f.ready }
func (f fakeReady) Clients() int { return f.clients }

func TestReadiness_Handler(t *testing.T) {
	cases := []struct {
		in       fakeReady
		wantCode int
		wantBody string
	}{
		{fakeReady{ready: false}, http.StatusServiceUnavailable, `{"status":"not_ready","clients":0}`},
		{fakeReady{ready: true, clients: 2}, http.StatusOK, `{"status":"ready","clients":2}`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		Readiness(tc.in)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rr.Code != tc.wantCode {
			t.Fatalf("status=%d want %d", rr.Code, tc.wantCode)
		}
		if got := strings.TrimSpace(rr.Body.String()); got != tc.wantBody {
			t.Fatalf("body=%s want %s", got, tc.wantBody)
		}
	}
}
