// Package router serves the control panel API: criterion changes coming
// from the panel and read-only views of the controller state.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/controller"
	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/core/observability"
)

const maxBody = 4 << 10

// PanelController is the part of the controller the panel drives.
type PanelController interface {
	Panel() controller.Panel
	Snapshot() controller.Snapshot
	UpdateCriterion(ctx context.Context, fn func(model.Criterion) model.Criterion) (model.Criterion, error)
}

// SourceReader exposes the data currently held by a map source.
type SourceReader interface {
	Snapshot(id string) (*geojson.FeatureCollection, bool)
}

type handlers struct {
	logger  *slog.Logger
	ctl     PanelController
	sources SourceReader
}

// Mount registers the panel and state routes on r.
func Mount(r chi.Router, logger *slog.Logger, ctl PanelController, sources SourceReader) {
	h := &handlers{logger: logger, ctl: ctl, sources: sources}

	r.Get("/panel", instrument("/panel", h.getPanel))
	r.Post("/panel/magnitude", instrument("/panel/magnitude", h.postMagnitude))
	r.Post("/panel/day", instrument("/panel/day", h.postDay))
	r.Post("/panel/all-day", instrument("/panel/all-day", h.postAllDay))
	r.Get("/state", instrument("/state", h.getState))
	r.Get("/sources/{id}", instrument("/sources/{id}", h.getSource))
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type magnitudeRequest struct {
	Value *float64 `json:"value"`
}

type dayRequest struct {
	Time *int64 `json:"time"`
}

type allDayRequest struct {
	AllDay *bool `json:"allDay"`
}

func (h *handlers) getPanel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Panel())
}

func (h *handlers) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *handlers) postMagnitude(w http.ResponseWriter, r *http.Request) {
	var req magnitudeRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Value == nil {
		http.Error(w, "missing required field: value", http.StatusBadRequest)
		return
	}
	v := *req.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		http.Error(w, "value must be a finite number", http.StatusBadRequest)
		return
	}
	h.update(w, r, func(model.Criterion) model.Criterion { return model.MagnitudeThreshold(v) })
}

func (h *handlers) postDay(w http.ResponseWriter, r *http.Request) {
	var req dayRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Time == nil {
		http.Error(w, "missing required field: time", http.StatusBadRequest)
		return
	}
	ms := *req.Time
	h.update(w, r, func(cur model.Criterion) model.Criterion { return model.DaySelection(cur.AllDay, ms) })
}

func (h *handlers) postAllDay(w http.ResponseWriter, r *http.Request) {
	var req allDayRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.AllDay == nil {
		http.Error(w, "missing required field: allDay", http.StatusBadRequest)
		return
	}
	all := *req.AllDay
	h.update(w, r, func(cur model.Criterion) model.Criterion { return model.DaySelection(all, cur.DayMillis) })
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request, fn func(model.Criterion) model.Criterion) {
	crit, err := h.ctl.UpdateCriterion(r.Context(), fn)
	if errors.Is(err, controller.ErrCriterionMode) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "criterion update", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.DebugContext(r.Context(), "criterion changed", "criterion", crit.Kind, "allDay", crit.AllDay)
	writeJSON(w, http.StatusOK, h.ctl.Panel())
}

func (h *handlers) getSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fc, ok := h.sources.Snapshot(id)
	if !ok {
		http.Error(w, fmt.Sprintf("source %q not found", id), http.StatusNotFound)
		return
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "encode source", "source", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
