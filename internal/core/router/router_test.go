package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/controller"
	"github.com/Jinksi/heatmap-example/internal/core/config"
	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/logger"
	"github.com/Jinksi/heatmap-example/internal/mapsync"
)

func newRouter(t *testing.T, mode config.Mode) (http.Handler, *mapsync.LiveMap) {
	t.Helper()
	ctl := controller.New(nil, nil, nil, nil, controller.Options{Mode: mode, Threshold: 0.01})
	t.Cleanup(ctl.Close)
	m := mapsync.NewLiveMap()
	r := chi.NewRouter()
	Mount(r, logger.NewNop(), ctl, m)
	return r, m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodePanel(t *testing.T, rr *httptest.ResponseRecorder) controller.Panel {
	t.Helper()
	var raw struct {
		Mode      config.Mode `json:"mode"`
		Criterion struct {
			Kind         model.CriterionKind `json:"kind"`
			Threshold    *float64            `json:"threshold"`
			AllDay       *bool               `json:"allDay"`
			SelectedTime *int64              `json:"selectedTime"`
		} `json:"criterion"`
		Bounds *controller.Bounds `json:"bounds"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode panel: %v; body=%s", err, rr.Body.String())
	}
	p := controller.Panel{Mode: raw.Mode, Bounds: raw.Bounds}
	p.Criterion.Kind = raw.Criterion.Kind
	if raw.Criterion.Threshold != nil {
		p.Criterion.Threshold = *raw.Criterion.Threshold
	}
	if raw.Criterion.AllDay != nil {
		p.Criterion.AllDay = *raw.Criterion.AllDay
	}
	if raw.Criterion.SelectedTime != nil {
		p.Criterion.DayMillis = *raw.Criterion.SelectedTime
	}
	return p
}

func TestGetPanel_Magnitude(t *testing.T) {
	h, _ := newRouter(t, config.ModeMagnitude)

	rr := do(t, h, http.MethodGet, "/panel", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	p := decodePanel(t, rr)
	if p.Criterion.Kind != model.KindMagnitude || p.Criterion.Threshold != 0.01 {
		t.Fatalf("criterion=%+v", p.Criterion)
	}
	if p.Bounds == nil || *p.Bounds != (controller.Bounds{Min: 0, Max: 1, Step: 0.01}) {
		t.Fatalf("bounds=%+v", p.Bounds)
	}
}

func TestPostMagnitude_UpdatesCriterion(t *testing.T) {
	h, _ := newRouter(t, config.ModeMagnitude)

	rr := do(t, h, http.MethodPost, "/panel/magnitude", `{"value":0.3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if p := decodePanel(t, rr); p.Criterion.Threshold != 0.3 {
		t.Fatalf("threshold=%v want 0.3", p.Criterion.Threshold)
	}

	// zero must round-trip, not vanish
	rr = do(t, h, http.MethodPost, "/panel/magnitude", `{"value":0}`)
	if !strings.Contains(rr.Body.String(), `"threshold":0`) {
		t.Fatalf("threshold 0 missing from %s", rr.Body.String())
	}
}

func TestPanel_RejectsMalformedInput(t *testing.T) {
	h, _ := newRouter(t, config.ModeMagnitude)

	cases := []struct{ path, body string }{
		{"/panel/magnitude", `{`},
		{"/panel/magnitude", `{}`},
		{"/panel/magnitude", `{"value":"0.3"}`},
		{"/panel/magnitude", `{"value":0.3,"extra":true}`},
		{"/panel/day", `{"time":"yesterday"}`},
		{"/panel/day", `{}`},
		{"/panel/all-day", `{"allDay":1}`},
		{"/panel/all-day", `null`},
	}
	for _, tc := range cases {
		rr := do(t, h, http.MethodPost, tc.path, tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: status=%d want 400", tc.path, tc.body, rr.Code)
		}
	}
}

func TestPanel_WrongModeConflicts(t *testing.T) {
	h, _ := newRouter(t, config.ModeMagnitude)

	rr := do(t, h, http.MethodPost, "/panel/day", `{"time":1709251200000}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d want 409", rr.Code)
	}
}

func TestPanel_DayFieldsUpdateIndependently(t *testing.T) {
	h, _ := newRouter(t, config.ModeDay)

	rr := do(t, h, http.MethodPost, "/panel/day", `{"time":1709251200000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	p := decodePanel(t, rr)
	if !p.Criterion.AllDay || p.Criterion.DayMillis != 1709251200000 {
		t.Fatalf("after day: %+v", p.Criterion)
	}

	rr = do(t, h, http.MethodPost, "/panel/all-day", `{"allDay":false}`)
	p = decodePanel(t, rr)
	if p.Criterion.AllDay || p.Criterion.DayMillis != 1709251200000 {
		t.Fatalf("after all-day: %+v", p.Criterion)
	}
}

func TestGetState(t *testing.T) {
	h, _ := newRouter(t, config.ModeMagnitude)

	rr := do(t, h, http.MethodGet, "/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var s controller.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Mode != config.ModeMagnitude || s.Stored != 0 || s.MapReady {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestGetSource(t *testing.T) {
	h, m := newRouter(t, config.ModeMagnitude)

	if rr := do(t, h, http.MethodGet, "/sources/example-source", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{153.5, -28.1}))
	if err := m.AddSource("example-source", mapsync.SourceSpec{Type: mapsync.SourceTypeGeoJSON, Data: fc}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	rr := do(t, h, http.MethodGet, "/sources/example-source", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	got, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Features) != 1 {
		t.Fatalf("features=%d want 1", len(got.Features))
	}
}
